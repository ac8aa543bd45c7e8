package opt

// ArcCost evaluates the cost of travelling between two nodes.
type ArcCost func(from, to int) int64

// CostModel is the arc cost evaluator shared by all vehicles, with optional
// per-vehicle overrides. It is immutable once Solve starts.
type CostModel struct {
	numNodes int
	shared   ArcCost
	vehicle  map[int]ArcCost
}

// NewCostModel wraps an arbitrary evaluator. The evaluator must return a
// non-negative value for every ordered pair of nodes in [0,numNodes).
func NewCostModel(numNodes int, fn ArcCost) *CostModel {
	return &CostModel{numNodes: numNodes, shared: fn, vehicle: map[int]ArcCost{}}
}

// NewMatrixCost builds a cost model backed by a square non-negative matrix.
func NewMatrixCost(matrix [][]int64) (*CostModel, error) {
	if err := validateMatrix("cost matrix", matrix); err != nil {
		return nil, err
	}
	return NewCostModel(len(matrix), MatrixArcCost(matrix)), nil
}

// MatrixArcCost turns a matrix into an ArcCost without validation.
func MatrixArcCost(matrix [][]int64) ArcCost {
	return func(from, to int) int64 { return matrix[from][to] }
}

func validateMatrix(field string, matrix [][]int64) error {
	n := len(matrix)
	if n == 0 {
		return configErr(field, "matrix is empty")
	}
	for i, row := range matrix {
		if len(row) != n {
			return configErr(field, "row %d has %d columns, want %d", i, len(row), n)
		}
		for j, c := range row {
			if c < 0 {
				return configErr(field, "negative entry %d at [%d][%d]", c, i, j)
			}
		}
	}
	return nil
}

// SetVehicleCost overrides the evaluator for one vehicle.
func (c *CostModel) SetVehicleCost(vehicle int, fn ArcCost) {
	c.vehicle[vehicle] = fn
}

// Cost returns the shared cost of the arc from -> to. Self arcs cost 0.
func (c *CostModel) Cost(from, to int) int64 {
	if from == to {
		return 0
	}
	return c.shared(from, to)
}

// CostForVehicle returns the cost of the arc for a specific vehicle.
func (c *CostModel) CostForVehicle(from, to, vehicle int) int64 {
	if from == to {
		return 0
	}
	if fn, ok := c.vehicle[vehicle]; ok {
		return fn(from, to)
	}
	return c.shared(from, to)
}

// NumNodes returns the node count the model was built for.
func (c *CostModel) NumNodes() int { return c.numNodes }
