package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fleetroute/internal/integrations"
	"fleetroute/internal/integrations/csvmatrix"
	"fleetroute/internal/integrations/yamlfile"
	"fleetroute/internal/opt"
)

// problemFlags select and shape the input problem.
type problemFlags struct {
	path         string
	windows      string
	windowsDim   string
	vehicles     int
	depot        int
	timeSlack    int64
	timeCapacity int64
}

type solveFlags struct {
	problemFlags
	format        string
	timeLimit     time.Duration
	maxIterations int
	workers       int
	allowPartial  bool
	skipSearch    bool
	logLevel      string
}

func (f *problemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "problem", "p", "", "Problem file (.yaml, .yml, .json or .csv matrix)")
	cmd.Flags().StringVar(&f.windows, "csv-windows", "", "CSV of node,lo,hi time windows")
	cmd.Flags().StringVar(&f.windowsDim, "windows-dimension", csvmatrix.TimeDimension, "Dimension the CSV windows apply to")
	cmd.Flags().IntVar(&f.vehicles, "vehicles", 1, "Number of vehicles (CSV problems)")
	cmd.Flags().IntVar(&f.depot, "depot", 0, "Depot node (CSV problems)")
	cmd.Flags().Int64Var(&f.timeSlack, "time-slack", 0, "Waiting allowed per node on the time dimension (CSV problems)")
	cmd.Flags().Int64Var(&f.timeCapacity, "time-capacity", 0, "Time dimension capacity, 0 uses the largest window end (CSV problems)")
	_ = cmd.MarkFlagRequired("problem")
}

// windowsOverlay applies a windows CSV to a problem loaded from another source.
type windowsOverlay struct {
	integrations.ProblemSource
	dimension string
	path      string
}

func (w windowsOverlay) Load(ctx context.Context) (opt.Problem, error) {
	p, err := w.ProblemSource.Load(ctx)
	if err != nil {
		return p, err
	}
	return p, csvmatrix.OverlayWindows(&p, w.dimension, w.path)
}

func (f *problemFlags) source() integrations.ProblemSource {
	if strings.EqualFold(filepath.Ext(f.path), ".csv") {
		return csvmatrix.Source{
			MatrixPath:  f.path,
			WindowsPath: f.windows,
			NumVehicles: f.vehicles,
			Depot:       f.depot,
			Slack:       f.timeSlack,
			Capacity:    f.timeCapacity,
		}
	}
	var src integrations.ProblemSource = yamlfile.Source{Path: f.path}
	if f.windows != "" {
		src = windowsOverlay{ProblemSource: src, dimension: f.windowsDim, path: f.windows}
	}
	return src
}

func newSolveCmd() *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Build a first solution and improve it by local search",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(f.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q", f.logLevel)
			}
			logrus.SetLevel(level)
			return runSolve(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&f.format, "format", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().DurationVar(&f.timeLimit, "time-limit", 0, "Local search time limit (0 means none)")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Cap on accepted moves (0 means none)")
	cmd.Flags().IntVar(&f.workers, "workers", 1, "Goroutines evaluating candidate moves")
	cmd.Flags().BoolVar(&f.allowPartial, "allow-partial", false, "Report routes even when some nodes stay unrouted")
	cmd.Flags().BoolVar(&f.skipSearch, "skip-local-search", false, "Stop after the first solution")
	cmd.Flags().StringVar(&f.logLevel, "log", "warn", "Log level (trace, debug, info, warn, error)")
	return cmd
}

func runSolve(ctx context.Context, f *solveFlags, out io.Writer) error {
	p, m, err := integrations.Build(ctx, f.source())
	if err != nil {
		return err
	}
	res, err := opt.Solve(ctx, m, opt.Options{
		TimeLimit:       f.timeLimit,
		MaxIterations:   f.maxIterations,
		Workers:         f.workers,
		AllowPartial:    f.allowPartial,
		SkipLocalSearch: f.skipSearch,
		Logger:          logrus.WithField("problem", p.Name),
	})
	if err != nil {
		return err
	}
	return printResult(out, f.format, &p, res, f.allowPartial)
}

func newValidateCmd() *cobra.Command {
	f := &problemFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a problem file builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	return cmd
}

func runValidate(ctx context.Context, f *problemFlags, out io.Writer) error {
	p, m, err := integrations.Build(ctx, f.source())
	if err != nil {
		return err
	}
	topo := m.Topology()
	names := make([]string, 0, len(p.Dimensions))
	for _, d := range p.Dimensions {
		names = append(names, d.Name)
	}
	fmt.Fprintf(out, "ok: %d nodes, %d vehicles", topo.NumNodes(), topo.NumVehicles())
	if len(names) > 0 {
		fmt.Fprintf(out, ", dimensions %s", strings.Join(names, ", "))
	}
	fmt.Fprintln(out)
	return nil
}
