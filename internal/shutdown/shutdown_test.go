package shutdown_test

import (
	"context"
	"runtime"
	"testing"

	"github.com/clambin/amp-autoshutdown/internal/shutdown"
	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	c := shutdown.Default()
	assert.Equal(t, "shutdown", c.Name)
	if runtime.GOOS == "windows" {
		assert.Equal(t, "shutdown /s /t 0", c.String())
	} else {
		assert.Equal(t, "shutdown -h now", c.String())
	}
}

func TestCommand_Shutdown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test uses a POSIX shell")
	}
	tests := []struct {
		name    string
		cmd     shutdown.Command
		wantErr assert.ErrorAssertionFunc
		wantMsg string
	}{
		{
			name:    "success",
			cmd:     shutdown.Command{Name: "sh", Args: []string{"-c", "exit 0"}},
			wantErr: assert.NoError,
		},
		{
			name:    "non-zero exit",
			cmd:     shutdown.Command{Name: "sh", Args: []string{"-c", "echo not allowed >&2; exit 1"}},
			wantErr: assert.Error,
			wantMsg: "not allowed",
		},
		{
			name:    "missing command",
			cmd:     shutdown.Command{Name: "amp-autoshutdown-missing-command"},
			wantErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cmd.Shutdown(context.Background())
			tt.wantErr(t, err)
			if err != nil {
				assert.ErrorIs(t, err, shutdown.ErrShutdownFailed)
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}
