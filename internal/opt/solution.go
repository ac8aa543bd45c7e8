package opt

// Solution assigns a successor to every routed slot. Each vehicle's route
// runs Start(v) -> visits... -> End(v); visits not on any route have no
// successor. The per-vehicle visit lists are kept in sync with the next
// pointers so moves can work on slices.
type Solution struct {
	topo   *Topology
	next   []int
	owner  []int // visit slot -> vehicle, -1 when unrouted
	routes [][]int
}

const unrouted = -1

// NewSolution returns the empty solution: every vehicle goes straight from
// its start to its end and no visit is routed.
func NewSolution(topo *Topology) *Solution {
	s := &Solution{
		topo:   topo,
		next:   make([]int, topo.NumSlots()),
		owner:  make([]int, topo.NumVisits()),
		routes: make([][]int, topo.NumVehicles()),
	}
	for i := range s.next {
		s.next[i] = unrouted
	}
	for i := range s.owner {
		s.owner[i] = unrouted
	}
	for v := 0; v < topo.NumVehicles(); v++ {
		s.next[topo.Start(v)] = topo.End(v)
	}
	return s
}

// Topology returns the index the solution is expressed in.
func (s *Solution) Topology() *Topology { return s.topo }

// Next returns the successor of slot, or -1 for end slots and unrouted visits.
func (s *Solution) Next(slot int) int { return s.next[slot] }

// Route returns the visit slots of vehicle v in order, without its start and
// end. The slice must not be modified.
func (s *Solution) Route(v int) []int { return s.routes[v] }

// VehicleOf returns the vehicle serving a visit slot, or -1.
func (s *Solution) VehicleOf(slot int) int {
	if s.topo.IsVisit(slot) {
		return s.owner[slot]
	}
	return s.topo.VehicleOf(slot)
}

// IsRouted reports whether a visit slot is on some route.
func (s *Solution) IsRouted(slot int) bool {
	return !s.topo.IsVisit(slot) || s.owner[slot] != unrouted
}

// Unrouted lists the visit slots left off every route, in slot order.
func (s *Solution) Unrouted() []int {
	var out []int
	for slot, v := range s.owner {
		if v == unrouted {
			out = append(out, slot)
		}
	}
	return out
}

// NumRouted is the number of visit slots placed on routes.
func (s *Solution) NumRouted() int {
	n := 0
	for _, r := range s.routes {
		n += len(r)
	}
	return n
}

// SetRoute replaces vehicle v's visits. A visit already routed on another
// vehicle is an invariant violation; callers move visits by rewriting both
// routes, clearing the source first.
func (s *Solution) SetRoute(v int, visits []int) {
	for _, slot := range s.routes[v] {
		s.owner[slot] = unrouted
		s.next[slot] = unrouted
	}
	prev := s.topo.Start(v)
	for _, slot := range visits {
		if !s.topo.IsVisit(slot) {
			invariant("slot %d is not a visit slot", slot)
		}
		if s.owner[slot] != unrouted {
			invariant("slot %d already routed on vehicle %d", slot, s.owner[slot])
		}
		s.owner[slot] = v
		s.next[prev] = slot
		prev = slot
	}
	s.next[prev] = s.topo.End(v)
	s.routes[v] = append([]int(nil), visits...)
}

// setRoutes applies a move touching one or two vehicles.
func (s *Solution) setRoutes(changes []routeChange) {
	for _, c := range changes {
		for _, slot := range s.routes[c.vehicle] {
			s.owner[slot] = unrouted
			s.next[slot] = unrouted
		}
		s.routes[c.vehicle] = nil
	}
	for _, c := range changes {
		s.SetRoute(c.vehicle, c.visits)
	}
}

// Clone returns a deep copy.
func (s *Solution) Clone() *Solution {
	c := &Solution{
		topo:   s.topo,
		next:   append([]int(nil), s.next...),
		owner:  append([]int(nil), s.owner...),
		routes: make([][]int, len(s.routes)),
	}
	for v, r := range s.routes {
		c.routes[v] = append([]int(nil), r...)
	}
	return c
}

// Walk follows next pointers from Start(v) and returns every slot up to and
// including End(v). A cycle or a dangling pointer panics.
func (s *Solution) Walk(v int) []int {
	path := []int{s.topo.Start(v)}
	slot := s.topo.Start(v)
	for steps := 0; !s.topo.IsEnd(slot); steps++ {
		if steps > s.topo.NumSlots() {
			invariant("cycle on route of vehicle %d", v)
		}
		slot = s.next[slot]
		if slot == unrouted {
			invariant("dangling next pointer on route of vehicle %d", v)
		}
		path = append(path, slot)
	}
	if slot != s.topo.End(v) {
		invariant("route of vehicle %d ends at slot %d, want %d", v, slot, s.topo.End(v))
	}
	return path
}

// Nodes returns vehicle v's route as nodes, start and end included.
func (s *Solution) Nodes(v int) []int {
	out := make([]int, 0, len(s.routes[v])+2)
	out = append(out, s.topo.StartNode(v))
	for _, slot := range s.routes[v] {
		out = append(out, s.topo.NodeOf(slot))
	}
	return append(out, s.topo.EndNode(v))
}

// Verify checks that next pointers and visit lists agree and that no visit
// is routed twice. It panics with an InvariantError otherwise.
func (s *Solution) Verify() {
	seen := make([]bool, s.topo.NumVisits())
	for v := range s.routes {
		path := s.Walk(v)
		if len(path) != len(s.routes[v])+2 {
			invariant("vehicle %d: next pointers visit %d slots, route lists %d", v, len(path)-2, len(s.routes[v]))
		}
		for i, slot := range s.routes[v] {
			if path[i+1] != slot {
				invariant("vehicle %d position %d: next pointers say %d, route says %d", v, i, path[i+1], slot)
			}
			if seen[slot] {
				invariant("slot %d routed twice", slot)
			}
			seen[slot] = true
		}
	}
}

// Equal reports whether two solutions route every vehicle identically.
func (s *Solution) Equal(o *Solution) bool {
	if len(s.routes) != len(o.routes) {
		return false
	}
	for v := range s.routes {
		if len(s.routes[v]) != len(o.routes[v]) {
			return false
		}
		for i := range s.routes[v] {
			if s.routes[v][i] != o.routes[v][i] {
				return false
			}
		}
	}
	return true
}

type routeChange struct {
	vehicle int
	visits  []int
}
