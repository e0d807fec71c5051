package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/jobradar/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and bootstrap configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := renderConfigYAML(cfg, true)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config.yaml seeded with the current defaults",
	RunE: func(cmd *cobra.Command, _ []string) error {
		const path = "config.yaml"
		if _, err := os.Stat(path); err == nil {
			return eris.Errorf("%s already exists", path)
		}

		// The seed file never carries the API key; it comes from the
		// JOBRADAR_ANTHROPIC_KEY environment variable.
		seed := *cfg
		seed.Anthropic.Key = ""

		out, err := renderConfigYAML(&seed, false)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return eris.Wrap(err, "write config.yaml")
		}

		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

// renderConfigYAML marshals a config to YAML, masking the API key when
// redact is set.
func renderConfigYAML(c *config.Config, redact bool) ([]byte, error) {
	shown := *c
	if redact && shown.Anthropic.Key != "" {
		shown.Anthropic.Key = "<redacted>"
	}

	out, err := yaml.Marshal(shown)
	if err != nil {
		return nil, eris.Wrap(err, "marshal config")
	}
	return out, nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
