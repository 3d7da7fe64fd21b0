package main

import (
	"github.com/spf13/cobra"

	"watchdata/internal/ingest"
	"watchdata/internal/models"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Scan the exports directory and import new or changed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, runErr := a.importer.RunNow(cmd.Context(), models.ReasonManual)
			if run != nil {
				if err := printStatus(models.NewImportStatus(run)); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Mark every running import as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.FailRunningRuns(cmd.Context(), ingest.MessageReset)
			if err != nil {
				return err
			}
			a.log.WithField("runs", n).Info("running imports reset")
			return output(map[string]int64{"reset": n}, []string{"RESET"}, [][]string{{fmtInt(n)}})
		},
	}
}
