package opt

// Topology maps nodes (physical places) to slots (positions in some
// vehicle's route). Regular nodes own one slot each; every vehicle owns a
// start slot and an end slot, which may alias a shared depot node.
//
// Slot layout: [0, visits) regular nodes in increasing node order, then
// one start slot per vehicle, then one end slot per vehicle.
type Topology struct {
	numNodes    int
	numVehicles int
	visits      int

	slotNode []int // slot -> node
	nodeSlot []int // node -> slot
	starts   []int // vehicle -> start node
	ends     []int // vehicle -> end node
}

// NewTopology builds a topology where every vehicle starts and ends at depot.
func NewTopology(numNodes, numVehicles, depot int) (*Topology, error) {
	if numVehicles <= 0 {
		return nil, configErr("vehicles", "need at least one vehicle, got %d", numVehicles)
	}
	starts := make([]int, numVehicles)
	ends := make([]int, numVehicles)
	for v := range starts {
		starts[v] = depot
		ends[v] = depot
	}
	return NewTopologyWithDepots(numNodes, starts, ends)
}

// NewTopologyWithDepots builds a topology with per-vehicle start and end nodes.
func NewTopologyWithDepots(numNodes int, starts, ends []int) (*Topology, error) {
	numVehicles := len(starts)
	if numVehicles <= 0 {
		return nil, configErr("vehicles", "need at least one vehicle, got %d", numVehicles)
	}
	if len(ends) != numVehicles {
		return nil, configErr("depots", "%d start nodes but %d end nodes", numVehicles, len(ends))
	}
	if numNodes < numVehicles {
		return nil, configErr("nodes", "%d nodes cannot give %d vehicles a start", numNodes, numVehicles)
	}
	depot := make([]bool, numNodes)
	for v := 0; v < numVehicles; v++ {
		if starts[v] < 0 || starts[v] >= numNodes {
			return nil, configErr("depots", "vehicle %d start node %d out of range [0,%d)", v, starts[v], numNodes)
		}
		if ends[v] < 0 || ends[v] >= numNodes {
			return nil, configErr("depots", "vehicle %d end node %d out of range [0,%d)", v, ends[v], numNodes)
		}
		depot[starts[v]] = true
		depot[ends[v]] = true
	}

	t := &Topology{
		numNodes:    numNodes,
		numVehicles: numVehicles,
		nodeSlot:    make([]int, numNodes),
		starts:      append([]int(nil), starts...),
		ends:        append([]int(nil), ends...),
	}
	for n := 0; n < numNodes; n++ {
		t.nodeSlot[n] = -1
		if !depot[n] {
			t.nodeSlot[n] = len(t.slotNode)
			t.slotNode = append(t.slotNode, n)
		}
	}
	t.visits = len(t.slotNode)
	t.slotNode = append(t.slotNode, t.starts...)
	t.slotNode = append(t.slotNode, t.ends...)
	// depots resolve to the first vehicle touching them, starts before ends
	for v := numVehicles - 1; v >= 0; v-- {
		t.nodeSlot[t.ends[v]] = t.End(v)
	}
	for v := numVehicles - 1; v >= 0; v-- {
		t.nodeSlot[t.starts[v]] = t.Start(v)
	}
	return t, nil
}

func (t *Topology) NumNodes() int    { return t.numNodes }
func (t *Topology) NumVehicles() int { return t.numVehicles }
func (t *Topology) NumSlots() int    { return len(t.slotNode) }

// NumVisits is the number of regular (non-depot) slots.
func (t *Topology) NumVisits() int { return t.visits }

// Start returns the start slot of vehicle v.
func (t *Topology) Start(v int) int { return t.visits + v }

// End returns the end slot of vehicle v.
func (t *Topology) End(v int) int { return t.visits + t.numVehicles + v }

// NodeOf returns the node a slot stands for.
func (t *Topology) NodeOf(slot int) int { return t.slotNode[slot] }

// SlotOf returns the slot of a node. Depot nodes resolve to the start slot
// of the lowest-numbered vehicle starting there, or its end slot when no
// vehicle starts there.
func (t *Topology) SlotOf(node int) int { return t.nodeSlot[node] }

func (t *Topology) IsStart(slot int) bool {
	return slot >= t.visits && slot < t.visits+t.numVehicles
}

func (t *Topology) IsEnd(slot int) bool { return slot >= t.visits+t.numVehicles }

// IsVisit reports whether slot is a regular node slot.
func (t *Topology) IsVisit(slot int) bool { return slot >= 0 && slot < t.visits }

// VehicleOf returns the owning vehicle of a start or end slot, or -1.
func (t *Topology) VehicleOf(slot int) int {
	switch {
	case t.IsEnd(slot):
		return slot - t.visits - t.numVehicles
	case t.IsStart(slot):
		return slot - t.visits
	default:
		return -1
	}
}

// IsDepot reports whether node is a start or end of some vehicle.
func (t *Topology) IsDepot(node int) bool {
	return node >= 0 && node < t.numNodes && t.nodeSlot[node] >= t.visits
}

// StartNode and EndNode return the depot nodes of vehicle v.
func (t *Topology) StartNode(v int) int { return t.starts[v] }
func (t *Topology) EndNode(v int) int   { return t.ends[v] }
