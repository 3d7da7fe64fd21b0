package main

import (
	"github.com/spf13/cobra"

	"watchdata/internal/ingest"
	"watchdata/internal/models"
)

func printStatus(st models.ImportStatus) error {
	rows := [][]string{
		{"Run", st.RunID},
		{"Status", string(st.Status)},
		{"Started", fmtStr(st.StartedAt)},
		{"Finished", fmtStr(st.FinishedAt)},
		{"Scanned Files", fmtInt(st.ScannedFiles)},
		{"Records Seen", fmtInt(st.RecordsSeen)},
		{"Bytes Read", fmtInt(st.BytesRead)},
		{"Parsed", fmtInt(st.Parsed)},
		{"Inserted", fmtInt(st.Inserted)},
		{"Duplicates", fmtInt(st.Duplicates)},
		{"Warnings", fmtInt(st.Warnings)},
	}
	if st.ErrorText != nil {
		rows = append(rows, []string{"Error", *st.ErrorText})
	}
	return output(st, []string{"FIELD", "VALUE"}, rows)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest import run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.importer.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(st)
		},
	}
}

func newQualityCmd() *cobra.Command {
	var (
		runID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Show warning counts and samples of an import run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			dq, err := a.importer.DataQuality(cmd.Context(), runID, limit)
			if err != nil {
				return err
			}

			if flagFmt == "table" {
				rows := make([][]string, 0, len(dq.Summary)+len(dq.Samples))
				for _, s := range dq.Summary {
					rows = append(rows, []string{s.WarningType, fmtInt(s.Count), ""})
				}
				for _, w := range dq.Samples {
					rows = append(rows, []string{w.Type, "", w.Message})
				}
				formatTable([]string{"TYPE", "COUNT", "MESSAGE"}, rows)
				return nil
			}
			return formatJSON(dq)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run id (default: latest run)")
	cmd.Flags().IntVar(&limit, "limit", ingest.DefaultSampleLimit, "Maximum samples")
	return cmd
}
