package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLITextGen answers through a locally authenticated agent CLI in single-turn
// print mode, so no API key is needed. Used for the claude_code provider.
type CLITextGen struct {
	// Command is the agent binary, "claude" when empty.
	Command string
	Model   string
}

func (g *CLITextGen) Name() string {
	return "claude_code/" + g.Model
}

func (g *CLITextGen) Chat(ctx context.Context, system, user string) (string, error) {
	command := g.Command
	if command == "" {
		command = "claude"
	}
	cmd := exec.CommandContext(ctx, command,
		"-p",
		"--model", g.Model,
		"--max-turns", "1",
		"--allowedTools", "",
		"--append-system-prompt", system,
	)
	cmd.Stdin = strings.NewReader(user)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s: %w: %s", g.Name(), err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s: %w", g.Name(), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
