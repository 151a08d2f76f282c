// Package shutdown powers off the host.
package shutdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrShutdownFailed indicates the host shutdown command could not be executed.
var ErrShutdownFailed = errors.New("shutdown failed")

// Command shuts down the host by running an OS command.
type Command struct {
	Name string
	Args []string
}

// Default returns the Command that powers off the host immediately on the current OS.
func Default() Command {
	if runtime.GOOS == "windows" {
		return Command{Name: "shutdown", Args: []string{"/s", "/t", "0"}}
	}
	return Command{Name: "shutdown", Args: []string{"-h", "now"}}
}

// Shutdown runs the command. Any failure, including a non-zero exit code, wraps ErrShutdownFailed.
func (c Command) Shutdown(ctx context.Context) error {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if output := strings.TrimSpace(out.String()); output != "" {
			return fmt.Errorf("%w: %s: %w (%s)", ErrShutdownFailed, c, err, output)
		}
		return fmt.Errorf("%w: %s: %w", ErrShutdownFailed, c, err)
	}
	return nil
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}
