package opt

import (
	"github.com/sirupsen/logrus"
)

// construct builds the first solution with the path-cheapest-arc rule.
// Vehicles are filled one after another in id order. From the current tail
// the cheapest arc to a node that keeps every dimension feasible, including
// the return to End(v), is appended; ties go to the lowest node id. A vehicle
// is closed when no candidate fits. Nodes no vehicle can take stay unrouted.
func (m *Model) construct(log logrus.FieldLogger) *Solution {
	sol := m.NewSolution()
	nd := m.dims.Len()
	cand := make(cursor, nd)
	best := make(cursor, nd)
	closing := make(cursor, nd)
	taken := make([]bool, m.topo.NumVisits())

	for v := 0; v < m.topo.NumVehicles(); v++ {
		cur, ok := m.dims.startCursor(v)
		if !ok {
			log.WithField("vehicle", v).Debug("[CONSTRUCT] start window empty, vehicle left idle")
			continue
		}
		tail := m.topo.Start(v)
		var route []int
		for {
			pick := -1
			var pickCost int64
			for slot := 0; slot < m.topo.NumVisits(); slot++ {
				if taken[slot] {
					continue
				}
				if !m.dims.advance(cand, cur, tail, slot, v) {
					continue
				}
				if !m.dims.advance(closing, cand, slot, m.topo.End(v), v) {
					continue
				}
				c := m.costs.CostForVehicle(m.topo.NodeOf(tail), m.topo.NodeOf(slot), v)
				if pick == -1 || c < pickCost {
					pick, pickCost = slot, c
					copy(best, cand)
				}
			}
			if pick == -1 {
				break
			}
			route = append(route, pick)
			taken[pick] = true
			tail = pick
			copy(cur, best)
		}
		sol.SetRoute(v, route)
		log.WithFields(logrus.Fields{
			"vehicle": v,
			"visits":  len(route),
			"cost":    m.RouteCost(v, route),
		}).Debug("[CONSTRUCT] route closed")
	}
	return sol
}
