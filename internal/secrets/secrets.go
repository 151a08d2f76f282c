// Package secrets looks up the AMP API key for an alias.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file is readable by group or others.
var ErrInsecurePermissions = errors.New("credentials file has insecure permissions")

// A Store returns the secret for an alias, if it has one.
type Store interface {
	Get(alias string) (string, bool)
}

// File reads secrets from a TOML credentials file, with one table per alias:
//
//	[default]
//	api_key = "..."
//
// The file is read on every call, so updated keys are picked up without a restart.
type File struct {
	Path   string
	Logger *slog.Logger
}

var _ Store = File{}

type credential struct {
	APIKey string `toml:"api_key"`
}

func (f File) Get(alias string) (string, bool) {
	creds, err := f.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && f.Logger != nil {
			f.Logger.Warn("failed to read credentials", slog.String("path", f.Path), slog.Any("err", err))
		}
		return "", false
	}
	c, ok := creds[alias]
	if !ok || c.APIKey == "" {
		return "", false
	}
	return c.APIKey, true
}

func (f File) load() (map[string]credential, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o", ErrInsecurePermissions, f.Path, mode)
		}
	}
	var creds map[string]credential
	if _, err = toml.DecodeFile(f.Path, &creds); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return creds, nil
}

// Env reads secrets from environment variables named Prefix followed by the upper-cased alias,
// e.g. AMP_AUTOSHUTDOWN_API_KEY_DEFAULT.
type Env struct {
	Prefix string
}

// DefaultEnvPrefix is the Prefix used when Env.Prefix is empty.
const DefaultEnvPrefix = "AMP_AUTOSHUTDOWN_API_KEY_"

var _ Store = Env{}

func (e Env) Get(alias string) (string, bool) {
	value := os.Getenv(e.Variable(alias))
	return value, value != ""
}

// Variable returns the name of the environment variable holding the secret for alias.
func (e Env) Variable(alias string) string {
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, alias)
	return prefix + name
}

// Chain returns the secret from the first Store that has one.
type Chain []Store

var _ Store = Chain{}

func (c Chain) Get(alias string) (string, bool) {
	for _, s := range c {
		if value, ok := s.Get(alias); ok {
			return value, true
		}
	}
	return "", false
}
