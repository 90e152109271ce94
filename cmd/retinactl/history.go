package main

import (
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently analyzed images",
		Long: `History lists analyses recorded by the analyze command, newest first.

Examples:
  retinactl history
  retinactl history --limit 5 --image eye.png`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of entries")
	cmd.Flags().String("image", "", "Only show entries for this image name")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	image, err := cmd.Flags().GetString("image")
	if err != nil {
		return err
	}

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(cmd.Context(), limit, image)
	if err != nil {
		return err
	}

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	if len(entries) == 0 {
		md.PlainText("No analyses recorded yet.")
		return md.Build()
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.AnalyzedAt.Local().Format("2006-01-02 15:04"),
			e.ImageName,
			e.Preset,
			string(e.Level),
			strconv.FormatFloat(e.Score, 'f', 3, 64),
			strconv.Itoa(e.DarkCount),
			strconv.Itoa(e.BrightCount),
			e.ReportPath,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Analyzed", "Image", "Preset", "Level", "Score", "Dark", "Bright", "Report"},
		Rows:   rows,
	})
	return md.Build()
}
