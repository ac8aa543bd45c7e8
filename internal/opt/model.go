package opt

// Model bundles the topology, the arc cost evaluator and the registered
// dimensions of one routing problem.
type Model struct {
	topo  *Topology
	costs *CostModel
	dims  *Dimensions
}

// NewModel ties a cost model to a topology.
func NewModel(topo *Topology, costs *CostModel) (*Model, error) {
	if topo == nil {
		return nil, configErr("model", "topology is nil")
	}
	if costs == nil {
		return nil, configErr("model", "cost model is nil")
	}
	if costs.NumNodes() != topo.NumNodes() {
		return nil, configErr("model", "cost model covers %d nodes, topology has %d", costs.NumNodes(), topo.NumNodes())
	}
	return &Model{topo: topo, costs: costs, dims: NewDimensions(topo)}, nil
}

func (m *Model) Topology() *Topology     { return m.topo }
func (m *Model) Costs() *CostModel       { return m.costs }
func (m *Model) Dimensions() *Dimensions { return m.dims }

// AddDimension registers a dimension with per-vehicle capacities.
func (m *Model) AddDimension(name string, transit TransitFunc, slackMax int64, capacities []int64, startAtZero bool) (*Dimension, error) {
	return m.dims.Register(name, transit, slackMax, capacities, startAtZero)
}

// AddUniformDimension registers a dimension whose capacity is the same for
// every vehicle.
func (m *Model) AddUniformDimension(name string, transit TransitFunc, slackMax, capacity int64, startAtZero bool) (*Dimension, error) {
	caps := make([]int64, m.topo.NumVehicles())
	for v := range caps {
		caps[v] = capacity
	}
	return m.dims.Register(name, transit, slackMax, caps, startAtZero)
}

// NewSolution returns an empty solution over the model's topology.
func (m *Model) NewSolution() *Solution { return NewSolution(m.topo) }

// RouteCost is the arc cost of Start(v) -> visits... -> End(v).
func (m *Model) RouteCost(v int, visits []int) int64 {
	var total int64
	prev := m.topo.StartNode(v)
	for _, slot := range visits {
		n := m.topo.NodeOf(slot)
		total += m.costs.CostForVehicle(prev, n, v)
		prev = n
	}
	return total + m.costs.CostForVehicle(prev, m.topo.EndNode(v), v)
}

// Cost is the total arc cost of every route of sol.
func (m *Model) Cost(sol *Solution) int64 {
	var total int64
	for v := 0; v < m.topo.NumVehicles(); v++ {
		total += m.RouteCost(v, sol.Route(v))
	}
	return total
}

// SolutionFromRoutes builds a solution from per-vehicle node sequences. Each
// sequence may include or omit the vehicle's start and end depot.
func (m *Model) SolutionFromRoutes(routes [][]int) (*Solution, error) {
	if len(routes) != m.topo.NumVehicles() {
		return nil, configErr("routes", "got %d routes for %d vehicles", len(routes), m.topo.NumVehicles())
	}
	sol := m.NewSolution()
	seen := make([]bool, m.topo.NumNodes())
	for v, nodes := range routes {
		if len(nodes) > 0 && nodes[0] == m.topo.StartNode(v) {
			nodes = nodes[1:]
		}
		if len(nodes) > 0 && nodes[len(nodes)-1] == m.topo.EndNode(v) {
			nodes = nodes[:len(nodes)-1]
		}
		visits := make([]int, 0, len(nodes))
		for _, n := range nodes {
			if n < 0 || n >= m.topo.NumNodes() {
				return nil, configErr("routes", "vehicle %d: node %d out of range", v, n)
			}
			if m.topo.IsDepot(n) {
				return nil, configErr("routes", "vehicle %d: depot node %d inside route", v, n)
			}
			if seen[n] {
				return nil, configErr("routes", "node %d routed twice", n)
			}
			seen[n] = true
			visits = append(visits, m.topo.SlotOf(n))
		}
		sol.SetRoute(v, visits)
	}
	return sol, nil
}
