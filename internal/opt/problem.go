package opt

import (
	"fmt"
)

// Dimension transit kinds accepted by DimensionSpec.
const (
	TransitArc   = "arc"
	TransitUnary = "unary"
)

// Problem is a data-only description of a routing problem, as read from
// problem files and API requests. Build turns it into a Model.
type Problem struct {
	Name   string    `json:"name,omitempty" yaml:"name,omitempty"`
	Labels []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	Matrix [][]int64 `json:"matrix" yaml:"matrix"`
	// NumVehicles vehicles all start and end at Depot unless Starts and Ends
	// are given.
	NumVehicles int             `json:"numVehicles,omitempty" yaml:"numVehicles,omitempty"`
	Depot       int             `json:"depot" yaml:"depot"`
	Starts      []int           `json:"starts,omitempty" yaml:"starts,omitempty"`
	Ends        []int           `json:"ends,omitempty" yaml:"ends,omitempty"`
	Dimensions  []DimensionSpec `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// DimensionSpec describes one dimension of a Problem.
type DimensionSpec struct {
	Name string `json:"name" yaml:"name"`
	// Transit is "arc" (Matrix, or the problem's cost matrix when Matrix is
	// empty) or "unary" (Weights of the node being left). Empty picks unary
	// when Weights is set.
	Transit string    `json:"transit,omitempty" yaml:"transit,omitempty"`
	Matrix  [][]int64 `json:"matrix,omitempty" yaml:"matrix,omitempty"`
	Weights []int64   `json:"weights,omitempty" yaml:"weights,omitempty"`
	Slack   int64     `json:"slack" yaml:"slack"`
	// Capacity applies to every vehicle; Capacities overrides it per vehicle.
	Capacity    int64   `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Capacities  []int64 `json:"capacities,omitempty" yaml:"capacities,omitempty"`
	StartAtZero bool    `json:"startAtZero,omitempty" yaml:"startAtZero,omitempty"`
	// Windows holds one [lo, hi] pair per node. A depot's window applies to
	// the start of every vehicle based there.
	Windows [][]int64 `json:"windows,omitempty" yaml:"windows,omitempty"`
	// EndWindows optionally bounds each vehicle's end, one [lo, hi] per vehicle.
	EndWindows [][]int64 `json:"endWindows,omitempty" yaml:"endWindows,omitempty"`
}

// Label returns the display name of a node, or its id.
func (p *Problem) Label(node int) string {
	if node >= 0 && node < len(p.Labels) && p.Labels[node] != "" {
		return p.Labels[node]
	}
	return fmt.Sprint(node)
}

func (p *Problem) vehicles() int {
	if len(p.Starts) > 0 {
		return len(p.Starts)
	}
	return p.NumVehicles
}

// Build validates the problem and assembles a Model. Every error matches
// ErrConfiguration.
func (p *Problem) Build() (*Model, error) {
	costs, err := NewMatrixCost(p.Matrix)
	if err != nil {
		return nil, err
	}
	n := len(p.Matrix)
	if len(p.Labels) > 0 && len(p.Labels) != n {
		return nil, configErr("labels", "%d labels for %d nodes", len(p.Labels), n)
	}
	var topo *Topology
	switch {
	case len(p.Starts) > 0 || len(p.Ends) > 0:
		if p.NumVehicles != 0 && p.NumVehicles != len(p.Starts) {
			return nil, configErr("vehicles", "numVehicles %d disagrees with %d start nodes", p.NumVehicles, len(p.Starts))
		}
		topo, err = NewTopologyWithDepots(n, p.Starts, p.Ends)
	default:
		topo, err = NewTopology(n, p.NumVehicles, p.Depot)
	}
	if err != nil {
		return nil, err
	}
	m, err := NewModel(topo, costs)
	if err != nil {
		return nil, err
	}
	for i := range p.Dimensions {
		if err := p.addDimension(m, &p.Dimensions[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (p *Problem) addDimension(m *Model, spec *DimensionSpec) error {
	n := m.topo.NumNodes()
	kind := spec.Transit
	if kind == "" {
		kind = TransitArc
		if len(spec.Weights) > 0 {
			kind = TransitUnary
		}
	}
	var transit TransitFunc
	switch kind {
	case TransitArc:
		matrix := spec.Matrix
		if len(matrix) == 0 {
			matrix = p.Matrix
		}
		if err := validateMatrix(fmt.Sprintf("dimension %q matrix", spec.Name), matrix); err != nil {
			return err
		}
		if len(matrix) != n {
			return configErr("dimension", "%q matrix covers %d nodes, want %d", spec.Name, len(matrix), n)
		}
		transit = TransitFunc(MatrixArcCost(matrix))
	case TransitUnary:
		if len(spec.Weights) != n {
			return configErr("dimension", "%q has %d weights for %d nodes", spec.Name, len(spec.Weights), n)
		}
		for node, w := range spec.Weights {
			if w < 0 {
				return configErr("dimension", "%q weight of node %d is negative (%d)", spec.Name, node, w)
			}
		}
		weights := append([]int64(nil), spec.Weights...)
		transit = UnaryTransit(func(node int) int64 { return weights[node] })
	default:
		return configErr("dimension", "%q transit %q is not %q or %q", spec.Name, kind, TransitArc, TransitUnary)
	}

	caps := spec.Capacities
	if len(caps) == 0 {
		caps = make([]int64, m.topo.NumVehicles())
		for v := range caps {
			caps[v] = spec.Capacity
		}
	}
	d, err := m.AddDimension(spec.Name, transit, spec.Slack, caps, spec.StartAtZero)
	if err != nil {
		return err
	}

	if len(spec.Windows) > 0 && len(spec.Windows) != n {
		return configErr("dimension", "%q has %d windows for %d nodes", spec.Name, len(spec.Windows), n)
	}
	for node, w := range spec.Windows {
		if len(w) != 2 {
			return configErr("dimension", "%q window of node %d has %d values, want 2", spec.Name, node, len(w))
		}
		if err := d.SetBound(node, w[0], w[1]); err != nil {
			return err
		}
	}
	if len(spec.EndWindows) > 0 && len(spec.EndWindows) != m.topo.NumVehicles() {
		return configErr("dimension", "%q has %d end windows for %d vehicles", spec.Name, len(spec.EndWindows), m.topo.NumVehicles())
	}
	for v, w := range spec.EndWindows {
		if len(w) != 2 {
			return configErr("dimension", "%q end window of vehicle %d has %d values, want 2", spec.Name, v, len(w))
		}
		if err := d.SetSlotBound(m.topo.End(v), w[0], w[1]); err != nil {
			return err
		}
	}
	return nil
}
