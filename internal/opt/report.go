package opt

// RouteReport is one vehicle's route as handed to printers and APIs.
type RouteReport struct {
	Vehicle int   `json:"vehicle" yaml:"vehicle"`
	Nodes   []int `json:"nodes" yaml:"nodes"`
	Cost    int64 `json:"cost" yaml:"cost"`
	// Cumuls holds, per dimension, the realized value at each entry of Nodes.
	Cumuls map[string][]int64 `json:"cumuls,omitempty" yaml:"cumuls,omitempty"`
	// End holds, per dimension, the realized value at the route end.
	End map[string]int64 `json:"end,omitempty" yaml:"end,omitempty"`
}

// Report is the printable form of a solution.
type Report struct {
	Status          string           `json:"status" yaml:"status"`
	Feasible        bool             `json:"feasible" yaml:"feasible"`
	Routes          []RouteReport    `json:"routes" yaml:"routes"`
	TotalCost       int64            `json:"totalCost" yaml:"totalCost"`
	DimensionTotals map[string]int64 `json:"dimensionTotals,omitempty" yaml:"dimensionTotals,omitempty"`
	Unrouted        []int            `json:"unrouted,omitempty" yaml:"unrouted,omitempty"`
}

// Evaluate recomputes costs and cumuls of sol from scratch through the cost
// model and every dimension's Propagate.
func (m *Model) Evaluate(sol *Solution) Report {
	rep := Report{
		Status:   StatusSolved.String(),
		Feasible: true,
		Routes:   make([]RouteReport, m.topo.NumVehicles()),
	}
	cumuls := make(map[string][]int64, m.dims.Len())
	if m.dims.Len() > 0 {
		rep.DimensionTotals = map[string]int64{}
	}
	for _, d := range m.dims.All() {
		c, ok := d.Propagate(sol)
		cumuls[d.Name()] = c
		if !ok {
			rep.Feasible = false
		}
	}
	for v := range rep.Routes {
		rr := RouteReport{
			Vehicle: v,
			Nodes:   sol.Nodes(v),
			Cost:    m.RouteCost(v, sol.Route(v)),
		}
		if m.dims.Len() > 0 {
			rr.Cumuls = map[string][]int64{}
			rr.End = map[string]int64{}
			path := make([]int, 0, len(sol.Route(v))+2)
			path = append(path, m.topo.Start(v))
			path = append(path, sol.Route(v)...)
			path = append(path, m.topo.End(v))
			for _, d := range m.dims.All() {
				vals := make([]int64, len(path))
				for i, slot := range path {
					vals[i] = cumuls[d.Name()][slot]
				}
				rr.Cumuls[d.Name()] = vals
				rr.End[d.Name()] = vals[len(vals)-1]
				rep.DimensionTotals[d.Name()] += vals[len(vals)-1]
			}
		}
		rep.TotalCost += rr.Cost
		rep.Routes[v] = rr
	}
	for _, slot := range sol.Unrouted() {
		rep.Unrouted = append(rep.Unrouted, m.topo.NodeOf(slot))
	}
	return rep
}

// Report renders the result.
func (r *Result) Report() Report {
	rep := r.model.Evaluate(r.Solution)
	rep.Status = r.Status.String()
	return rep
}

// EvaluateRoutes re-evaluates externally supplied per-vehicle node orders.
func (m *Model) EvaluateRoutes(routes [][]int) (Report, error) {
	sol, err := m.SolutionFromRoutes(routes)
	if err != nil {
		return Report{}, err
	}
	rep := m.Evaluate(sol)
	if !rep.Feasible {
		rep.Status = StatusInfeasible.String()
	}
	return rep, nil
}
