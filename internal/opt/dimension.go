package opt

import (
	"fmt"
	"math"
)

// TransitFunc returns the quantity a dimension accumulates on the arc
// from -> to (both nodes).
type TransitFunc func(from, to int) int64

// UnaryTransit charges the weight of the node being left, whatever the
// destination. This is how node-level quantities such as priority are fed
// into a dimension.
func UnaryTransit(weight func(node int) int64) TransitFunc {
	return func(from, _ int) int64 { return weight(from) }
}

// Dimension is a named cumulative quantity tracked along every route: time,
// load, priority. Along a route p -> n the realized values satisfy
//
//	cumul(p) + t(p,n) <= cumul(n) <= cumul(p) + t(p,n) + slackMax
//
// and every cumul stays inside its slot bound and [0, capacity(vehicle)].
type Dimension struct {
	name        string
	transit     TransitFunc
	slackMax    int64
	capacities  []int64
	startAtZero bool

	topo   *Topology
	lo, hi []int64 // per slot
}

func (d *Dimension) Name() string               { return d.name }
func (d *Dimension) SlackMax() int64            { return d.slackMax }
func (d *Dimension) Capacity(vehicle int) int64 { return d.capacities[vehicle] }
func (d *Dimension) StartAtZero() bool          { return d.startAtZero }

// Transit evaluates the dimension's transit rule on an arc between nodes.
func (d *Dimension) Transit(from, to int) int64 { return d.transit(from, to) }

// SetBound restricts the cumul at node to [lo,hi]. A depot node's bound
// applies to the start slot of every vehicle starting there; use
// SetSlotBound for end slots.
func (d *Dimension) SetBound(node int, lo, hi int64) error {
	if node < 0 || node >= d.topo.NumNodes() {
		return configErr("bound", "dimension %q: node %d out of range [0,%d)", d.name, node, d.topo.NumNodes())
	}
	if lo > hi {
		return &RangeError{Dimension: d.name, Node: node, Lo: lo, Hi: hi}
	}
	if !d.topo.IsDepot(node) {
		slot := d.topo.SlotOf(node)
		d.lo[slot], d.hi[slot] = lo, hi
		return nil
	}
	applied := false
	for v := 0; v < d.topo.NumVehicles(); v++ {
		if d.topo.StartNode(v) == node {
			s := d.topo.Start(v)
			d.lo[s], d.hi[s] = lo, hi
			applied = true
		}
	}
	if !applied {
		// end-only depot
		s := d.topo.SlotOf(node)
		d.lo[s], d.hi[s] = lo, hi
	}
	return nil
}

// SetSlotBound restricts the cumul at a single slot.
func (d *Dimension) SetSlotBound(slot int, lo, hi int64) error {
	if slot < 0 || slot >= d.topo.NumSlots() {
		return configErr("bound", "dimension %q: slot %d out of range [0,%d)", d.name, slot, d.topo.NumSlots())
	}
	if lo > hi {
		return &RangeError{Dimension: d.name, Node: d.topo.NodeOf(slot), Lo: lo, Hi: hi}
	}
	d.lo[slot], d.hi[slot] = lo, hi
	return nil
}

// Bound returns the configured bound of a slot.
func (d *Dimension) Bound(slot int) (lo, hi int64) { return d.lo[slot], d.hi[slot] }

// window is the interval of cumul values reachable at a slot given
// everything before it on the route.
type window struct{ lo, hi int64 }

// slotWindow intersects the slot bound with [0, capacity].
func (d *Dimension) slotWindow(slot, vehicle int) window {
	w := window{lo: d.lo[slot], hi: d.hi[slot]}
	if w.lo < 0 {
		w.lo = 0
	}
	if c := d.capacities[vehicle]; w.hi > c {
		w.hi = c
	}
	return w
}

func (d *Dimension) startWindow(vehicle int) (window, bool) {
	w := d.slotWindow(d.topo.Start(vehicle), vehicle)
	if d.startAtZero && w.hi > 0 {
		w.hi = 0
	}
	return w, w.lo <= w.hi
}

// extend moves a reachable window across the arc from -> to.
func (d *Dimension) extend(w window, from, to, vehicle int) (window, bool) {
	t := d.transit(d.topo.NodeOf(from), d.topo.NodeOf(to))
	next := d.slotWindow(to, vehicle)
	if lo := satAdd(w.lo, t); lo > next.lo {
		next.lo = lo
	}
	if hi := satAdd(satAdd(w.hi, t), d.slackMax); hi < next.hi {
		next.hi = hi
	}
	return next, next.lo <= next.hi
}

// routeFeasible runs the forward pass only: Start(v), visits..., End(v).
func (d *Dimension) routeFeasible(vehicle int, visits []int) bool {
	w, ok := d.startWindow(vehicle)
	if !ok {
		return false
	}
	prev := d.topo.Start(vehicle)
	for _, s := range visits {
		if w, ok = d.extend(w, prev, s, vehicle); !ok {
			return false
		}
		prev = s
	}
	_, ok = d.extend(w, prev, d.topo.End(vehicle), vehicle)
	return ok
}

// scheduleRoute writes the tightest schedule of a route into cumul (indexed
// by slot). The forward pass computes reachable windows; the backward pass
// pulls every value down to the smallest one its successor still allows.
// The result is the pointwise minimal feasible schedule. On infeasibility
// the forward lower bounds computed so far are written and false returned.
func (d *Dimension) scheduleRoute(vehicle int, visits []int, cumul []int64) bool {
	path := make([]int, 0, len(visits)+2)
	path = append(path, d.topo.Start(vehicle))
	path = append(path, visits...)
	path = append(path, d.topo.End(vehicle))

	wins := make([]window, len(path))
	w, ok := d.startWindow(vehicle)
	wins[0] = w
	cumul[path[0]] = w.lo
	if !ok {
		return false
	}
	for i := 1; i < len(path); i++ {
		w, ok = d.extend(wins[i-1], path[i-1], path[i], vehicle)
		wins[i] = w
		cumul[path[i]] = w.lo
		if !ok {
			return false
		}
	}
	for i := len(path) - 2; i >= 0; i-- {
		t := d.transit(d.topo.NodeOf(path[i]), d.topo.NodeOf(path[i+1]))
		v := wins[i].lo
		if pulled := satAdd(cumul[path[i+1]], -satAdd(t, d.slackMax)); pulled > v {
			v = pulled
		}
		if v > wins[i].hi || satAdd(v, t) > cumul[path[i+1]] {
			invariant("dimension %q: backward pass left window at slot %d", d.name, path[i])
		}
		cumul[path[i]] = v
	}
	return true
}

// Propagate computes the realized cumul of every routed slot. Unrouted slots
// are left at zero. The bool reports whether every route is feasible.
func (d *Dimension) Propagate(sol *Solution) ([]int64, bool) {
	cumul := make([]int64, d.topo.NumSlots())
	feasible := true
	for v := 0; v < d.topo.NumVehicles(); v++ {
		if !d.scheduleRoute(v, sol.Route(v), cumul) {
			feasible = false
		}
	}
	return cumul, feasible
}

// Dimensions is the ordered set of dimensions registered on a model. Every
// check iterates it in registration order.
type Dimensions struct {
	topo  *Topology
	list  []*Dimension
	index map[string]int
}

// NewDimensions creates an empty dimension set over topo.
func NewDimensions(topo *Topology) *Dimensions {
	return &Dimensions{topo: topo, index: map[string]int{}}
}

// Register adds a dimension. capacities holds one entry per vehicle.
func (ds *Dimensions) Register(name string, transit TransitFunc, slackMax int64, capacities []int64, startAtZero bool) (*Dimension, error) {
	if name == "" {
		return nil, configErr("dimension", "name is empty")
	}
	if _, dup := ds.index[name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateDimension, name)
	}
	if transit == nil {
		return nil, configErr("dimension", "%q has no transit rule", name)
	}
	if slackMax < 0 {
		return nil, configErr("dimension", "%q slack %d is negative", name, slackMax)
	}
	if len(capacities) != ds.topo.NumVehicles() {
		return nil, configErr("dimension", "%q has %d capacities for %d vehicles", name, len(capacities), ds.topo.NumVehicles())
	}
	for v, c := range capacities {
		if c < 0 {
			return nil, configErr("dimension", "%q vehicle %d capacity %d is negative", name, v, c)
		}
	}
	d := &Dimension{
		name:        name,
		transit:     transit,
		slackMax:    slackMax,
		capacities:  append([]int64(nil), capacities...),
		startAtZero: startAtZero,
		topo:        ds.topo,
		lo:          make([]int64, ds.topo.NumSlots()),
		hi:          make([]int64, ds.topo.NumSlots()),
	}
	for s := range d.hi {
		d.hi[s] = math.MaxInt64
	}
	ds.index[name] = len(ds.list)
	ds.list = append(ds.list, d)
	return d, nil
}

// Get looks up a dimension by name.
func (ds *Dimensions) Get(name string) (*Dimension, bool) {
	i, ok := ds.index[name]
	if !ok {
		return nil, false
	}
	return ds.list[i], true
}

// All returns the dimensions in registration order.
func (ds *Dimensions) All() []*Dimension { return ds.list }

func (ds *Dimensions) Len() int { return len(ds.list) }

// IsFeasible reports whether every dimension accepts every route of sol.
func (ds *Dimensions) IsFeasible(sol *Solution) bool {
	for v := 0; v < ds.topo.NumVehicles(); v++ {
		if !ds.routeFeasible(v, sol.Route(v)) {
			return false
		}
	}
	return true
}

func (ds *Dimensions) routeFeasible(vehicle int, visits []int) bool {
	for _, d := range ds.list {
		if !d.routeFeasible(vehicle, visits) {
			return false
		}
	}
	return true
}

// cursor is the per-dimension forward state of a route under construction.
type cursor []window

func (ds *Dimensions) startCursor(vehicle int) (cursor, bool) {
	c := make(cursor, len(ds.list))
	for i, d := range ds.list {
		w, ok := d.startWindow(vehicle)
		if !ok {
			return nil, false
		}
		c[i] = w
	}
	return c, true
}

// advance extends every dimension across from -> to into dst.
func (ds *Dimensions) advance(dst, src cursor, from, to, vehicle int) bool {
	for i, d := range ds.list {
		w, ok := d.extend(src[i], from, to, vehicle)
		if !ok {
			return false
		}
		dst[i] = w
	}
	return true
}

func satAdd(a, b int64) int64 {
	s := a + b
	if a > 0 && b > 0 && s < 0 {
		return math.MaxInt64
	}
	if a < 0 && b < 0 && s >= 0 {
		return math.MinInt64
	}
	return s
}
