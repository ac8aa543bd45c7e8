package opt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brisbane = [][]int64{
	{0, 79, 105, 27, 40},
	{79, 0, 28, 52, 96},
	{105, 28, 0, 76, 120},
	{27, 52, 76, 0, 65},
	{40, 96, 120, 65, 0},
}

// technicians is the two-vehicle instance with time windows and priorities.
func technicians() *Problem {
	return &Problem{
		Matrix: [][]int64{
			{0, 10, 20, 30, 40},
			{10, 0, 15, 25, 35},
			{20, 15, 0, 10, 20},
			{30, 25, 10, 0, 15},
			{40, 35, 20, 15, 0},
		},
		NumVehicles: 2,
		Dimensions: []DimensionSpec{
			{
				Name:     "Time",
				Transit:  TransitArc,
				Slack:    30,
				Capacity: 300,
				Windows:  [][]int64{{0, 300}, {30, 120}, {60, 150}, {90, 180}, {120, 240}},
			},
			{
				Name:        "Priority",
				Transit:     TransitUnary,
				Weights:     []int64{0, 10, 20, 30, 40},
				Capacities:  []int64{100, 100},
				StartAtZero: true,
			},
		},
	}
}

func buildModel(t *testing.T, p *Problem) *Model {
	t.Helper()
	m, err := p.Build()
	require.NoError(t, err)
	return m
}

// requireValid checks that every non-depot node is routed exactly once and
// that every realized cumul stays inside its bound and the vehicle capacity.
func requireValid(t *testing.T, m *Model, sol *Solution) {
	t.Helper()
	sol.Verify()
	topo := m.Topology()
	seen := map[int]int{}
	for v := 0; v < topo.NumVehicles(); v++ {
		for _, n := range sol.Nodes(v)[1 : len(sol.Nodes(v))-1] {
			seen[n]++
		}
	}
	for n := 0; n < topo.NumNodes(); n++ {
		if topo.IsDepot(n) {
			assert.Zero(t, seen[n], "depot %d inside a route", n)
			continue
		}
		assert.Equal(t, 1, seen[n], "node %d", n)
	}
	for _, d := range m.Dimensions().All() {
		cumul, ok := d.Propagate(sol)
		require.True(t, ok, d.Name())
		for v := 0; v < topo.NumVehicles(); v++ {
			path := append([]int{topo.Start(v)}, sol.Route(v)...)
			path = append(path, topo.End(v))
			for i, slot := range path {
				lo, hi := d.Bound(slot)
				assert.GreaterOrEqual(t, cumul[slot], lo)
				assert.LessOrEqual(t, cumul[slot], hi)
				assert.GreaterOrEqual(t, cumul[slot], int64(0))
				assert.LessOrEqual(t, cumul[slot], d.Capacity(v))
				if i > 0 {
					prev := path[i-1]
					step := cumul[slot] - cumul[prev]
					tr := d.Transit(topo.NodeOf(prev), topo.NodeOf(slot))
					assert.GreaterOrEqual(t, step, tr)
					assert.LessOrEqual(t, step, tr+d.SlackMax())
				}
			}
		}
	}
}

func TestSolve_SingleVehicleBrisbane(t *testing.T) {
	m := buildModel(t, &Problem{Matrix: brisbane, NumVehicles: 1})

	res, err := Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	require.Equal(t, StatusSolved, res.Status)

	assert.Equal(t, []int{0, 3, 1, 2, 4, 0}, res.Solution.Nodes(0))
	assert.Equal(t, int64(267), res.Cost())
	assert.Equal(t, int64(267), res.Stats.InitialCost)
	assert.Equal(t, int64(267), res.Stats.FinalCost)
	assert.Equal(t, StopLocalOptimum, res.Stats.Stop)
	assert.Empty(t, res.Unrouted)
	requireValid(t, m, res.Solution)
}

func TestSolve_WorkingHoursInfeasible(t *testing.T) {
	m := buildModel(t, &Problem{
		Matrix:      brisbane,
		NumVehicles: 1,
		Dimensions: []DimensionSpec{{
			Name:     "Time",
			Slack:    5,
			Capacity: 30,
			Windows:  [][]int64{{0, 120}, {60, 180}, {120, 240}, {0, 120}, {60, 180}},
		}},
	})

	res, err := Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.Equal(t, []int{1, 2, 3, 4}, res.Unrouted)
	assert.Equal(t, StopSkipped, res.Stats.Stop)
	assert.Equal(t, "infeasible", res.Report().Status)
}

func TestSolve_PriorityCapacityNeverExceeded(t *testing.T) {
	m := buildModel(t, technicians())

	res, err := Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	require.Equal(t, StatusSolved, res.Status)
	requireValid(t, m, res.Solution)

	rep := res.Report()
	for _, r := range rep.Routes {
		assert.LessOrEqual(t, r.End["Priority"], int64(100), "vehicle %d", r.Vehicle)
	}
	assert.Equal(t, int64(100), rep.DimensionTotals["Priority"])
}

func TestSolve_TightPriorityCapacityWithPartialRouting(t *testing.T) {
	p := technicians()
	p.Dimensions = p.Dimensions[1:]
	p.Dimensions[0].Capacities = []int64{50, 50}
	m := buildModel(t, p)

	res, err := Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)

	res, err = Solve(context.Background(), m, Options{AllowPartial: true})
	require.NoError(t, err)
	require.Equal(t, StatusSolved, res.Status)
	assert.Equal(t, []int{4}, res.Unrouted)
	assert.Equal(t, []int{4}, res.Report().Unrouted)
	for _, r := range res.Report().Routes {
		assert.LessOrEqual(t, r.End["Priority"], int64(50))
	}
	assert.True(t, m.Dimensions().IsFeasible(res.Solution))
}

func TestSolve_SingleNodeFleet(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    *Problem
	}{
		{"one vehicle", &Problem{Matrix: [][]int64{{0}}, NumVehicles: 1}},
		{"vehicle per node", &Problem{Matrix: [][]int64{{0, 3}, {3, 0}}, Starts: []int{0, 1}, Ends: []int{0, 1}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := buildModel(t, tc.p)
			res, err := Solve(context.Background(), m, Options{})
			require.NoError(t, err)
			assert.Equal(t, StatusSolved, res.Status)
			assert.Zero(t, res.Cost())
			for v := 0; v < m.Topology().NumVehicles(); v++ {
				assert.Empty(t, res.Solution.Route(v))
			}
		})
	}
}

func TestSolve_RoundTripThroughEvaluate(t *testing.T) {
	m := buildModel(t, technicians())
	res, err := Solve(context.Background(), m, Options{})
	require.NoError(t, err)

	routes := make([][]int, m.Topology().NumVehicles())
	for v := range routes {
		routes[v] = res.Solution.Nodes(v)
	}
	rep, err := m.EvaluateRoutes(routes)
	require.NoError(t, err)
	assert.True(t, rep.Feasible)
	assert.Equal(t, res.Cost(), rep.TotalCost)
	assert.Equal(t, res.Report(), rep)
}

func TestModel_EvaluateRoutesRejectsBadInput(t *testing.T) {
	m := buildModel(t, &Problem{Matrix: brisbane, NumVehicles: 1})

	for name, routes := range map[string][][]int{
		"wrong vehicle count": {{1}, {2}},
		"node out of range":   {{0, 9, 0}},
		"depot inside":        {{0, 1, 0, 2, 0}},
		"duplicate":           {{1, 2, 1}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.EvaluateRoutes(routes)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}

	rep, err := m.EvaluateRoutes([][]int{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(79+28+105), rep.TotalCost)
	assert.Equal(t, []int{0, 1, 2, 0}, rep.Routes[0].Nodes)
	assert.Equal(t, []int{3, 4}, rep.Unrouted)
}

func TestSolve_OptionsValidation(t *testing.T) {
	m := buildModel(t, &Problem{Matrix: brisbane, NumVehicles: 1})
	for name, opts := range map[string]Options{
		"time limit": {TimeLimit: -1},
		"iterations": {MaxIterations: -1},
		"workers":    {Workers: -2},
		"batch":      {BatchSize: -3},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Solve(context.Background(), m, opts)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
	_, err := Solve(context.Background(), nil, Options{})
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestSolve_SkipLocalSearchKeepsFirstSolution(t *testing.T) {
	m := lineModel(t, []int64{0, 1, -2, 4}, 1)
	res, err := Solve(context.Background(), m, Options{SkipLocalSearch: true})
	require.NoError(t, err)
	assert.Equal(t, StopSkipped, res.Stats.Stop)
	assert.Equal(t, int64(14), res.Cost())
	assert.Equal(t, []int{0, 1, 2, 3, 0}, res.Solution.Nodes(0))
}
