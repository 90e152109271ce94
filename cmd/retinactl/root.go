package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/config"
	"github.com/spf13/cobra"
)

// imageExts are the file extensions batch and evaluate pick up.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// NewRootCmd creates the root command for retinactl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retinactl",
		Short: "Detect diabetic retinopathy lesions in fundus photographs",
		Long: `retinactl runs the fundus lesion pipeline locally.

It enhances a retinal photograph, segments dark lesions (microaneurysms,
hemorrhages) and bright lesions (exudates), measures them and assigns a
rule-based risk level. Results are written as JSON or Markdown reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(setupLogger(getVerboseFlag(cmd)))
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("presets", "",
		"Preset file to load in addition to the built-in presets")
	cmd.PersistentFlags().String("data-dir", config.DataDir(),
		"Directory holding the analysis history")

	cmd.AddCommand(NewAnalyzeCmd())
	cmd.AddCommand(NewBatchCmd())
	cmd.AddCommand(NewEvaluateCmd())
	cmd.AddCommand(NewPresetsCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewSynthCmd())
	cmd.AddCommand(NewTokenCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return false
	}
	return verbose
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadRegistry returns the built-in presets plus those from --presets, or
// from the first default preset file that exists.
func loadRegistry(cmd *cobra.Command) (*analysis.Registry, error) {
	path, err := cmd.Flags().GetString("presets")
	if err != nil {
		return nil, err
	}
	if path != "" {
		return analysis.LoadPresetFile(path)
	}

	for _, p := range config.PresetSearchPaths() {
		r, err := analysis.LoadPresetFile(p)
		if errors.Is(err, analysis.ErrPresetFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("loaded preset file", "path", p)
		return r, nil
	}
	return analysis.NewRegistry(), nil
}

func newAnalyzer(cmd *cobra.Command) (*analysis.Analyzer, error) {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return nil, err
	}
	name, err := cmd.Flags().GetString("preset")
	if err != nil {
		return nil, err
	}
	return analysis.NewNamed(reg, name)
}

// listImages returns the supported images directly inside dir, sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

func addPresetFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("preset", "p", analysis.DefaultPreset, "Analysis preset")
}
