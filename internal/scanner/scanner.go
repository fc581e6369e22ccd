package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specq-dev/specq/internal/config"
	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/model"
)

const (
	proposalFile = "proposal.md"
	tasksFile    = "tasks.md"
	archiveDir   = "archive"
)

var (
	frontmatterRe = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n---\s*\n(.*)`)
	taskHeadingRe = regexp.MustCompile(`(?i)^##\s+(task-\S+):\s*(.+)$`)
)

// frontmatter is the recognized proposal metadata. Unknown keys are ignored.
type frontmatter struct {
	DependsOn     []string `yaml:"depends_on"`
	Priority      int      `yaml:"priority"`
	Risk          string   `yaml:"risk"`
	ExecutorType  string   `yaml:"executor_type"`
	ExecutorModel string   `yaml:"executor_model"`
	MaxTurns      int      `yaml:"max_turns"`
	ExecutorTools []string `yaml:"executor_tools"`
	Verification  *struct {
		Strategy string `yaml:"strategy"`
	} `yaml:"verification"`
}

// ParseFrontmatter splits markdown content into its YAML frontmatter and
// body. Content without a frontmatter fence is all body.
func ParseFrontmatter(content string) (frontmatter, string, error) {
	m := frontmatterRe.FindStringSubmatch(content)
	if m == nil {
		return frontmatter{}, content, nil
	}
	var meta frontmatter
	if err := yaml.Unmarshal([]byte(m[1]), &meta); err != nil {
		return frontmatter{}, "", fmt.Errorf("parsing frontmatter: %w", err)
	}
	return meta, m[2], nil
}

// ParseTasks parses tasks.md content into the ordered task list. Each task
// starts at a "## task-<id>: <title>" heading; everything until the next
// heading is its description.
func ParseTasks(content string) []model.Task {
	var (
		tasks   []model.Task
		current *model.Task
		lines   []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.TrimSpace(strings.Join(lines, "\n"))
		tasks = append(tasks, *current)
		current, lines = nil, nil
	}
	for _, line := range strings.Split(content, "\n") {
		if m := taskHeadingRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &model.Task{
				ID:     m[1],
				Title:  strings.TrimSpace(m[2]),
				Status: model.StatusPending,
			}
			continue
		}
		if current != nil {
			lines = append(lines, line)
		}
	}
	flush()
	return tasks
}

// Scan walks the changes directory and returns one work item per change spec,
// sorted by directory name. A missing changes directory yields an empty list.
func Scan(ctx context.Context, cfg *config.Config) ([]*model.WorkItem, error) {
	logger := ctxlog.FromContext(ctx)
	changesDir := filepath.Join(cfg.ProjectRoot, cfg.ChangesDir)

	entries, err := os.ReadDir(changesDir)
	if os.IsNotExist(err) {
		logger.Debug("Changes directory absent.", "path", changesDir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading changes dir: %w", err)
	}

	var items []*model.WorkItem
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == archiveDir {
			continue
		}
		dir := filepath.Join(changesDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, proposalFile)); err != nil {
			continue
		}
		item, err := parseChangeDir(dir, cfg)
		if err != nil {
			return nil, fmt.Errorf("change %s: %w", entry.Name(), err)
		}
		items = append(items, item)
	}
	logger.Debug("Scan complete.", "dir", changesDir, "items", len(items))
	return items, nil
}

// parseChangeDir builds one work item from a change directory.
func parseChangeDir(dir string, cfg *config.Config) (*model.WorkItem, error) {
	raw, err := os.ReadFile(filepath.Join(dir, proposalFile))
	if err != nil {
		return nil, err
	}
	meta, body, err := ParseFrontmatter(string(raw))
	if err != nil {
		return nil, err
	}

	var tasks []model.Task
	if tasksRaw, err := os.ReadFile(filepath.Join(dir, tasksFile)); err == nil {
		tasks = ParseTasks(string(tasksRaw))
	}

	id := filepath.Base(dir)
	title := id
	for _, line := range strings.Split(body, "\n") {
		if s := strings.TrimSpace(line); strings.HasPrefix(s, "# ") {
			title = strings.TrimSpace(s[2:])
			break
		}
	}

	risk := model.Risk(meta.Risk)
	if !risk.Valid() {
		risk = model.RiskMedium
	}

	rel, err := filepath.Rel(cfg.ProjectRoot, dir)
	if err != nil {
		rel = dir
	}

	now := time.Now().UTC()
	item := &model.WorkItem{
		ID:          id,
		ChangeDir:   rel,
		Title:       title,
		Description: strings.TrimSpace(body),
		Deps:        meta.DependsOn,
		Priority:    meta.Priority,
		Risk:        risk,
		Overrides: model.Overrides{
			ExecutorType:  meta.ExecutorType,
			ExecutorModel: meta.ExecutorModel,
			MaxTurns:      meta.MaxTurns,
			ExecutorTools: meta.ExecutorTools,
		},
		MaxRetries:  cfg.Budgets.MaxRetries,
		MaxDuration: cfg.Budgets.MaxDuration,
		Status:      model.StatusPending,
		Tasks:       tasks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if meta.Verification != nil {
		item.Overrides.Verification = meta.Verification.Strategy
	}
	return item, nil
}
