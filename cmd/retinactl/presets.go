package main

import (
	"encoding/json"
	"fmt"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewPresetsCmd creates the presets command.
func NewPresetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List available analysis presets",
		Long: `List the built-in presets and any defined in the preset file.

Examples:
  retinactl presets
  retinactl presets --presets ./presets.yaml
  retinactl presets show strict`,
		Args: cobra.NoArgs,
		RunE: runPresetsCmd,
	}
	cmd.Flags().BoolP("json", "j", false, "Print presets as JSON")
	cmd.AddCommand(newPresetShowCmd())
	return cmd
}

func runPresetsCmd(cmd *cobra.Command, _ []string) error {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	presets := reg.List()
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(presets)
	}

	rows := make([][]string, 0, len(presets))
	for _, p := range presets {
		rows = append(rows, []string{p.Name, p.Description})
	}
	md := markdown.NewMarkdown(cmd.OutOrStdout())
	md.Table(markdown.TableSet{
		Header: []string{"Name", "Description"},
		Rows:   rows,
	})
	return md.Build()
}

func newPresetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a preset's parameters as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}
			p, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(map[string]any{p.Name: p})
			if err != nil {
				return fmt.Errorf("failed to encode preset: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
