package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and report table health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		h, err := st.Health(ctx)
		if err != nil {
			return eris.Wrap(err, "migrate: health")
		}
		if len(h.Missing) > 0 {
			return eris.Errorf("migrate: tables still missing: %v", h.Missing)
		}
		return printJSON(os.Stdout, h)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
