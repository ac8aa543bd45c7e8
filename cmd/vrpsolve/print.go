package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"fleetroute/internal/opt"
)

// output is the machine-readable form of a solve.
type output struct {
	Problem string     `json:"problem,omitempty" yaml:"problem,omitempty"`
	Report  opt.Report `json:"report" yaml:"report"`
	Stats   opt.Stats  `json:"stats" yaml:"stats"`
}

func printResult(w io.Writer, format string, p *opt.Problem, res *opt.Result, partial bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(output{Problem: p.Name, Report: res.Report(), Stats: res.Stats})
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(output{Problem: p.Name, Report: res.Report(), Stats: res.Stats}); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		printText(w, p, res, partial)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func printText(w io.Writer, p *opt.Problem, res *opt.Result, partial bool) {
	rep := res.Report()
	if res.Status == opt.StatusInfeasible && !partial {
		fmt.Fprintln(w, "No solution found!")
		fmt.Fprintf(w, "Unrouted: %s\n", labels(p, rep.Unrouted))
		return
	}
	dims := make([]string, 0, len(rep.DimensionTotals))
	for name := range rep.DimensionTotals {
		dims = append(dims, name)
	}
	sort.Strings(dims)

	fmt.Fprintf(w, "Objective: %d\n", rep.TotalCost)
	for _, r := range rep.Routes {
		fmt.Fprintf(w, "Route for vehicle %d:\n", r.Vehicle)
		fmt.Fprintf(w, " %s\n", strings.Join(routeStops(p, r, dims), " -> "))
		fmt.Fprintf(w, "Distance of route: %d\n", r.Cost)
		for _, d := range dims {
			fmt.Fprintf(w, "%s of route: %d\n", d, r.End[d])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total distance of all routes: %d\n", rep.TotalCost)
	for _, d := range dims {
		fmt.Fprintf(w, "Total %s of all routes: %d\n", d, rep.DimensionTotals[d])
	}
	if len(rep.Unrouted) > 0 {
		fmt.Fprintf(w, "Unrouted: %s\n", labels(p, rep.Unrouted))
	}
}

// routeStops renders each stop as its label, followed by the cumul of every
// dimension in parentheses.
func routeStops(p *opt.Problem, r opt.RouteReport, dims []string) []string {
	stops := make([]string, len(r.Nodes))
	for i, node := range r.Nodes {
		s := p.Label(node)
		if len(dims) > 0 {
			vals := make([]string, len(dims))
			for j, d := range dims {
				vals[j] = fmt.Sprintf("%s=%d", d, r.Cumuls[d][i])
			}
			s += " (" + strings.Join(vals, " ") + ")"
		}
		stops[i] = s
	}
	return stops
}

func labels(p *opt.Problem, nodes []int) string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = p.Label(n)
	}
	return strings.Join(out, ", ")
}
