package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
)

var flagJSON bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return renderConfig(cmd.OutOrStdout(), resolvedCfg, flagJSON)
		},
	}
	show.Flags().BoolVar(&flagJSON, "json", false, "output JSON instead of TOML")

	cmd.AddCommand(show)

	return cmd
}

func renderConfig(w io.Writer, cfg *config.Config, asJSON bool) error {
	if cfg == nil {
		return errors.New("no configuration loaded")
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(cfg)
	}

	return toml.NewEncoder(w).Encode(cfg)
}
