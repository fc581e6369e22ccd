// Package model defines the core data types shared across specq: work items,
// tasks, votes, verification attempts, and the risk-policy variants. The types
// here are plain data; all behavior lives in the packages that consume them.
package model
