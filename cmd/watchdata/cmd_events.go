package main

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		name  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent telemetry events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.ListEvents(cmd.Context(), name, limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(events))
			for i, e := range events {
				attrs := make([]string, 0, len(e.Attrs))
				for k, v := range e.Attrs {
					if k == "event.name" {
						continue
					}
					attrs = append(attrs, k+"="+v)
				}
				sort.Strings(attrs)
				rows[i] = []string{e.CreatedAt.Format(time.RFC3339), e.Name, strings.Join(attrs, " ")}
			}
			return output(map[string]any{"events": events}, []string{"TIME", "EVENT", "ATTRIBUTES"}, rows)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only events with this name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events")
	return cmd
}
