// Package instances implements the command that lists the AMP instances.
package instances

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/clambin/amp-autoshutdown/internal/amp"
	"github.com/clambin/amp-autoshutdown/internal/cmd/cli"
	"github.com/clambin/go-common/charmer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	Cmd = cobra.Command{
		Use:   "instances",
		Short: "List the AMP instances and whether they are monitored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, _ := cli.Logger(viper.GetViper(), os.Stderr)
			cfg, err := cli.ReadOnlyLoader(viper.GetViper()).Load()
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			client, err := cli.NewAMPClient(cfg, cli.Secrets(viper.GetViper(), logger), logger)
			if err != nil {
				return err
			}
			e, err := encoder(cmd.OutOrStdout(), viper.GetString("output"))
			if err != nil {
				return err
			}
			return ShowInstances(cmd.Context(), client, cfg.SelectedInstances, e)
		},
	}

	args = charmer.Arguments{
		"output": {"yaml", "Output format (yaml|json)"},
	}
)

func init() {
	_ = charmer.SetPersistentFlags(&Cmd, viper.GetViper(), args)
}

type Encoder interface {
	Encode(any) error
}

type InstanceLister interface {
	ListInstances(context.Context) ([]amp.Instance, error)
}

type entry struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Selected bool   `json:"selected" yaml:"selected"`
}

type report struct {
	Instances []entry  `json:"instances" yaml:"instances"`
	Unknown   []string `json:"unknown,omitempty" yaml:"unknown,omitempty"`
}

// ShowInstances encodes the instances known to AMP. Selected instances that AMP doesn't know are reported as unknown.
func ShowInstances(ctx context.Context, c InstanceLister, selected []string, e Encoder) error {
	instances, err := c.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("amp: instances: %w", err)
	}

	r := report{Instances: make([]entry, 0, len(instances))}
	known := make([]string, 0, len(instances))
	for _, instance := range instances {
		r.Instances = append(r.Instances, entry{
			ID:       instance.ID,
			Name:     instance.Name,
			Selected: slices.Contains(selected, instance.ID),
		})
		known = append(known, instance.ID)
	}
	for _, id := range selected {
		if !slices.Contains(known, id) {
			r.Unknown = append(r.Unknown, id)
		}
	}
	return e.Encode(r)
}

func encoder(w io.Writer, format string) (Encoder, error) {
	switch strings.ToLower(format) {
	case "", "yaml":
		return yaml.NewEncoder(w), nil
	case "json":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e, nil
	default:
		return nil, fmt.Errorf("invalid output format %q", format)
	}
}
