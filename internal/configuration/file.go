package configuration

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format of a configuration file.
type Format string

const (
	TOML Format = "toml"
	YAML Format = "yaml"
)

// FormatOf determines the Format of a file from its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unsupported configuration file format: %q", path)
	}
}

// Load decodes a configuration. Missing settings take their default value.
func Load(r io.Reader, format Format) (Configuration, error) {
	cfg := defaults()
	var err error
	switch format {
	case TOML:
		_, err = toml.NewDecoder(r).Decode(&cfg)
	case YAML:
		if err = yaml.NewDecoder(r).Decode(&cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = fmt.Errorf("unsupported format: %q", format)
	}
	if err != nil {
		return Configuration{}, fmt.Errorf("decode: %w", err)
	}
	return cfg.Normalize(), nil
}

// Write encodes a configuration.
func Write(w io.Writer, cfg Configuration, format Format) error {
	switch format {
	case TOML:
		return toml.NewEncoder(w).Encode(cfg)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format: %q", format)
	}
}

// A FileLoader reads the configuration from a TOML or YAML file. If the file doesn't exist,
// Load creates it with the Default configuration, unless ReadOnly is set.
type FileLoader struct {
	Path     string
	ReadOnly bool
}

func (l FileLoader) Load() (Configuration, error) {
	format, err := FormatOf(l.Path)
	if err != nil {
		return Configuration{}, err
	}
	f, err := os.Open(l.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || l.ReadOnly {
			return Configuration{}, err
		}
		cfg := Default()
		if err = Save(l.Path, cfg); err != nil {
			return Configuration{}, fmt.Errorf("create default configuration: %w", err)
		}
		return cfg.Normalize(), nil
	}
	defer func() { _ = f.Close() }()

	cfg, err := Load(f, format)
	if err != nil {
		return Configuration{}, fmt.Errorf("%s: %w", l.Path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating the directory if needed.
func Save(path string, cfg Configuration) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = Write(f, cfg, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
