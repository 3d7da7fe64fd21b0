package main

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"watchdata/internal/models"
)

func newGoalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "List or set metric goals",
	}
	cmd.AddCommand(goalsListCmd())
	cmd.AddCommand(goalsSetCmd())
	return cmd
}

func goalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			goals, err := a.store.ListGoals(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(goals))
			for i, g := range goals {
				rows[i] = []string{g.MetricKey, fmtFloat(g.TargetValue), g.Unit, g.UpdatedAt.Format(time.RFC3339)}
			}
			return output(map[string]any{"goals": goals}, []string{"METRIC", "TARGET", "UNIT", "UPDATED"}, rows)
		},
	}
}

func goalsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <metric> <target>",
		Short: "Set the target of a metric",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseFloat(args[1], 64)
			if err != nil || math.IsNaN(target) || math.IsInf(target, 0) {
				return fmt.Errorf("target must be a finite number, got %q", args[1])
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.catalog.Lookup(args[0])
			if err != nil {
				return err
			}

			goal, err := a.store.SetGoal(cmd.Context(), m.Key, &target, m.DisplayUnit)
			if err != nil {
				return err
			}
			if err := a.store.RecordEvent(cmd.Context(), models.EventGoalUpdated, map[string]any{
				"metric": m.Key, "targetValue": target,
			}); err != nil {
				a.log.WithError(err).Warn("failed to record goal event")
			}

			return output(goal, []string{"METRIC", "TARGET", "UNIT"},
				[][]string{{goal.MetricKey, fmtFloat(goal.TargetValue), goal.Unit}})
		},
	}
}
