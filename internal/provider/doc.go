// Package provider implements single-turn text generation against the
// hosted LLM APIs: Anthropic, Google, and the OpenAI-compatible family.
// Transient upstream failures retry with exponential backoff.
package provider
