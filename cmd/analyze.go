package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/queryarc/queryarc-api/internal/model"
)

var analyzeOut string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Analyze one page and print its scored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Analyzer.Analyze(ctx, args[0])
		if err != nil {
			return err
		}

		if analyzeOut == "" {
			return writeReport(os.Stdout, report)
		}
		f, err := os.Create(analyzeOut)
		if err != nil {
			return eris.Wrap(err, "analyze: create output file")
		}
		defer f.Close() //nolint:errcheck
		return writeReport(f, report)
	},
}

func writeReport(w io.Writer, r model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "analyze: encode report")
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(analyzeCmd)
}
