package monitor

import (
	"log/slog"
	"sync"

	"github.com/clambin/amp-autoshutdown/internal/amp"
	"github.com/clambin/amp-autoshutdown/internal/cmd/cli"
	"github.com/clambin/amp-autoshutdown/internal/configuration"
	"github.com/clambin/amp-autoshutdown/internal/monitor"
	"github.com/clambin/amp-autoshutdown/internal/secrets"
)

// clients hands out an AMP client per configuration. The client is reused until the AMP URL, API key alias
// or TLS verification setting changes.
type clients struct {
	store   secrets.Store
	opts    []amp.Option
	logger  *slog.Logger
	lock    sync.Mutex
	current clientKey
	client  *amp.Client
}

type clientKey struct {
	baseURL   string
	alias     string
	apiKey    string
	verifySSL bool
}

func (c *clients) PlayerCounter(cfg configuration.Configuration) (monitor.PlayerCounter, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	apiKey, _ := c.store.Get(cfg.APIKeyAlias)
	key := clientKey{baseURL: cfg.AMPBaseURL, alias: cfg.APIKeyAlias, apiKey: apiKey, verifySSL: cfg.VerifySSL}
	if c.client != nil && key == c.current {
		return c.client, nil
	}

	client, err := cli.NewAMPClient(cfg, c.store, c.logger, c.opts...)
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		c.logger.Info("AMP connection settings changed", slog.String("url", cfg.AMPBaseURL), slog.String("alias", cfg.APIKeyAlias))
		c.client.CloseIdleConnections()
	}
	c.current, c.client = key, client
	return client, nil
}
