// Package cli holds the helpers shared by the amp-autoshutdown commands.
package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/clambin/amp-autoshutdown/internal/amp"
	"github.com/clambin/amp-autoshutdown/internal/configuration"
	"github.com/clambin/amp-autoshutdown/internal/secrets"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 5
	logFileMaxBackups = 3
)

// Logger returns the logger set up by the process settings "debug", "log.format" and "log.file".
// If "log.file" is set, records are written to w and to that file, which is rotated at 5 MB with 3 backups.
//
// Without --debug, the returned LevelVar lets the monitor apply the log level of its configuration file.
// With --debug, the level is fixed and the returned LevelVar is nil.
func Logger(v *viper.Viper, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	var levelVar *slog.LevelVar
	var level slog.Leveler = slog.LevelDebug
	if !v.GetBool("debug") {
		levelVar = new(slog.LevelVar)
		level = levelVar
	}
	opts := slog.HandlerOptions{Level: level}

	if path := v.GetString("log.file"); path != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
		})
	}

	var h slog.Handler
	switch strings.ToLower(v.GetString("log.format")) {
	case "json":
		h = slog.NewJSONHandler(w, &opts)
	default:
		h = slog.NewTextHandler(w, &opts)
	}
	return slog.New(h), levelVar
}

// Loader returns the loader for the monitor settings file. A missing file is created with the default settings.
func Loader(v *viper.Viper) configuration.FileLoader {
	return configuration.FileLoader{Path: v.GetString("settings")}
}

// ReadOnlyLoader returns the loader for the monitor settings file. A missing file is an error.
func ReadOnlyLoader(v *viper.Viper) configuration.FileLoader {
	return configuration.FileLoader{Path: v.GetString("settings"), ReadOnly: true}
}

// Secrets returns the store for the AMP API keys: the environment first, then the credentials file.
func Secrets(v *viper.Viper, logger *slog.Logger) secrets.Store {
	stores := secrets.Chain{secrets.Env{}}
	if path := v.GetString("credentials"); path != "" {
		stores = append(stores, secrets.File{Path: path, Logger: logger})
	}
	return stores
}

// NewAMPClient returns an AMP client for the configuration, using the API key stored under its alias.
// A missing API key is logged, but doesn't prevent creating the client.
func NewAMPClient(cfg configuration.Configuration, store secrets.Store, logger *slog.Logger, opts ...amp.Option) (*amp.Client, error) {
	key, ok := store.Get(cfg.APIKeyAlias)
	if !ok {
		logger.Warn("no API key found. connecting without authentication", slog.String("alias", cfg.APIKeyAlias))
	}
	opts = append([]amp.Option{amp.WithInsecureSkipVerify(!cfg.VerifySSL), amp.WithLogger(logger)}, opts...)
	return amp.New(cfg.AMPBaseURL, key, opts...)
}
