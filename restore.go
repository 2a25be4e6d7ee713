package rewind

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const defaultRestoreCommand = "psql"

// commandRestorer runs a restore tool with the snapshot on stdin. The
// connection target is appended after args.
type commandRestorer struct {
	command string
	args    []string
	logger  Logger
}

func newPsqlRestorer(command string, logger Logger) *commandRestorer {
	if command == "" {
		command = defaultRestoreCommand
	}
	return &commandRestorer{
		command: command,
		args:    []string{"-q", "-v", "ON_ERROR_STOP=1"},
		logger:  logger,
	}
}

func (r *commandRestorer) Restore(ctx context.Context, snapshot io.Reader, target string) error {
	args := append(append([]string{}, r.args...), target)
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Stdin = snapshot

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug("starting restore", "command", r.command)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", r.command, err, msg)
		}
		return fmt.Errorf("%s failed: %w", r.command, err)
	}
	return nil
}
