// Package csvmatrix reads problems from CSV files: a square cost matrix and
// optional per-node time windows.
//
// The matrix file may start with a header row of node labels; a leading
// empty cell (row-label column) is allowed on every row. The windows file has
// rows of node,lo,hi with an optional header.
package csvmatrix

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fleetroute/internal/integrations"
	"fleetroute/internal/opt"
)

// TimeDimension is the dimension name windows are attached to by default.
const TimeDimension = "Time"

var _ integrations.ProblemSource = Source{}

type Source struct {
	MatrixPath  string
	WindowsPath string
	NumVehicles int
	Depot       int
	// Slack and Capacity configure the time dimension created for windows.
	// A zero Capacity uses the largest window end.
	Slack    int64
	Capacity int64
}

func (s Source) Name() string { return "csv:" + filepath.Base(s.MatrixPath) }

func (s Source) Load(ctx context.Context) (opt.Problem, error) {
	if err := ctx.Err(); err != nil {
		return opt.Problem{}, err
	}
	f, err := os.Open(s.MatrixPath)
	if err != nil {
		return opt.Problem{}, fmt.Errorf("open matrix CSV: %w", err)
	}
	defer f.Close()
	labels, matrix, err := ReadMatrix(f)
	if err != nil {
		return opt.Problem{}, err
	}
	vehicles := s.NumVehicles
	if vehicles == 0 {
		vehicles = 1
	}
	p := opt.Problem{
		Name:        strings.TrimSuffix(filepath.Base(s.MatrixPath), filepath.Ext(s.MatrixPath)),
		Labels:      labels,
		Matrix:      matrix,
		NumVehicles: vehicles,
		Depot:       s.Depot,
	}
	if s.WindowsPath == "" {
		return p, nil
	}
	windows, err := ReadWindowsFile(s.WindowsPath, len(matrix))
	if err != nil {
		return p, err
	}
	capacity := s.Capacity
	if capacity == 0 {
		for _, w := range windows {
			capacity = max(capacity, w[1])
		}
	}
	p.Dimensions = append(p.Dimensions, opt.DimensionSpec{
		Name:     TimeDimension,
		Transit:  opt.TransitArc,
		Slack:    s.Slack,
		Capacity: capacity,
		Windows:  windows,
	})
	return p, nil
}

// ReadMatrix parses a square integer matrix.
func ReadMatrix(r io.Reader) ([]string, [][]int64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read matrix CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("matrix CSV is empty")
	}

	var labels []string
	if _, err := parseRow(stripRowLabel(records[0])); err != nil {
		labels = stripRowLabel(records[0])
		records = records[1:]
	}
	matrix := make([][]int64, 0, len(records))
	for i, rec := range records {
		cells := stripRowLabel(rec)
		row, err := parseRow(cells)
		if err != nil {
			return nil, nil, fmt.Errorf("matrix CSV row %d: %w", i+1, err)
		}
		matrix = append(matrix, row)
	}
	if labels != nil && len(labels) != len(matrix) {
		return nil, nil, fmt.Errorf("matrix CSV: %d labels for %d rows", len(labels), len(matrix))
	}
	return labels, matrix, nil
}

// stripRowLabel drops a leading row-label cell when the row has one more
// cell than it has numbers.
func stripRowLabel(rec []string) []string {
	if len(rec) > 1 {
		if _, err := strconv.ParseInt(rec[0], 10, 64); err != nil {
			if _, err := parseRow(rec[1:]); err == nil || rec[0] == "" {
				return rec[1:]
			}
		}
	}
	return rec
}

func parseRow(cells []string) ([]int64, error) {
	row := make([]int64, len(cells))
	for j, c := range cells {
		v, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", j+1, err)
		}
		row[j] = v
	}
	return row, nil
}

func ReadWindowsFile(path string, numNodes int) ([][]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open windows CSV: %w", err)
	}
	defer f.Close()
	return ReadWindows(f, numNodes)
}

// ReadWindows parses node,lo,hi rows. Nodes without a row get [0, MaxInt64].
func ReadWindows(r io.Reader, numNodes int) ([][]int64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 3
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read windows CSV: %w", err)
	}
	windows := make([][]int64, numNodes)
	for i := range windows {
		windows[i] = []int64{0, 1<<63 - 1}
	}
	for i, rec := range records {
		vals, err := parseRow(rec)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("windows CSV row %d: %w", i+1, err)
		}
		node := vals[0]
		if node < 0 || node >= int64(numNodes) {
			return nil, fmt.Errorf("windows CSV row %d: node %d out of range [0,%d)", i+1, node, numNodes)
		}
		windows[node] = []int64{vals[1], vals[2]}
	}
	return windows, nil
}

// OverlayWindows replaces the windows of dimension name in p with those read
// from path.
func OverlayWindows(p *opt.Problem, name, path string) error {
	windows, err := ReadWindowsFile(path, len(p.Matrix))
	if err != nil {
		return err
	}
	for i := range p.Dimensions {
		if p.Dimensions[i].Name == name {
			p.Dimensions[i].Windows = windows
			return nil
		}
	}
	return fmt.Errorf("problem has no dimension %q to apply windows to", name)
}
