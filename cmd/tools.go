package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/okian/benchrec/internal/adapters/repository"
	"github.com/okian/benchrec/internal/adapters/transcript"
	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/internal/domain/monitor"
	"github.com/okian/benchrec/internal/domain/performance"
)

// newClassifyCmd replays a saved simulator log offline.
func newClassifyCmd() *cobra.Command {
	var (
		metric      string
		maxDuration float64
		echo        bool
	)

	cmd := &cobra.Command{
		Use:   "classify <logfile>",
		Short: "Replay a simulator log and print the outcome it resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := transcript.Open(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}

			sink := io.Discard
			if echo {
				sink = cmd.OutOrStdout()
			}
			launches, terminations := 0, 0
			mon := monitor.New(monitor.WithEcho(sink), monitor.WithDrainTimeout(0))
			outcome, runErr := mon.Run(cmd.Context(), r, monitor.Effects{
				LaunchController: func(context.Context) error { launches++; return nil },
				Terminate:        func(context.Context) error { terminations++; return nil },
			})
			if ctxErr := cmd.Context().Err(); ctxErr != nil {
				return ctxErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "outcome: %s\n", outcome)
			fmt.Fprintf(out, "controller launches: %d\n", launches)
			fmt.Fprintf(out, "terminations: %d\n", terminations)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				fmt.Fprintf(out, "reason: %v\n", runErr)
			}

			if metric == "" {
				return nil
			}
			world, err := worldFor(metric, maxDuration)
			if err != nil {
				return err
			}
			f, err := performance.New().Format(outcome, world)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "record: %s\n", f)
			return nil
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "also format the outcome for this metric")
	cmd.Flags().Float64Var(&maxDuration, "max-duration", 0, "maximum duration scored for a timeout")
	cmd.Flags().BoolVar(&echo, "echo", false, "print every replayed line")
	return cmd
}

// newFormatCmd prints the record string of an outcome.
func newFormatCmd() *cobra.Command {
	var (
		metric      string
		maxDuration float64
		value       float64
		timeout     bool
		errored     bool
	)

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format an outcome as it would be persisted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			world, err := worldFor(metric, maxDuration)
			if err != nil {
				return err
			}
			var outcome model.RunOutcome
			switch {
			case timeout:
				outcome = model.Timeout()
			case errored:
				outcome = model.Errored("requested")
			default:
				outcome = model.Success(value)
			}
			f, err := performance.New().Format(outcome, world)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&metric, "metric", string(model.MetricTimeDuration), "metric kind")
	cmd.Flags().Float64Var(&maxDuration, "max-duration", 0, "maximum duration scored for a timeout")
	cmd.Flags().Float64Var(&value, "value", 0, "performance value of a successful run")
	cmd.Flags().BoolVar(&timeout, "timeout", false, "format a timed-out run")
	cmd.Flags().BoolVar(&errored, "error", false, "format an errored run")
	cmd.MarkFlagsMutuallyExclusive("value", "timeout", "error")
	cmd.MarkFlagsOneRequired("value", "timeout", "error")
	return cmd
}

// newStandingsCmd prints the ranked result set.
func newStandingsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "standings",
		Short: "Print the recorded results, best first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			world, err := cfg.WorldConfig()
			if err != nil {
				return err
			}
			store := repository.NewFileStore(cfg.CompetitorsFile)
			if err := store.Load(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range store.Standings(cmd.Context(), world.Metric, limit) {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", e.Rank, e.Record.CompetitorID, e.Record.Repository, e.Record.Formatted)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n results")
	return cmd
}

func worldFor(metric string, maxDuration float64) (model.WorldConfig, error) {
	kind, err := model.ParseMetricKind(metric)
	if err != nil {
		return model.WorldConfig{}, err
	}
	return model.WorldConfig{MaxDuration: maxDuration, Metric: kind}, nil
}
