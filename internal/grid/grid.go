// Package grid owns the bordered tile buffer shared by the updater, the halo
// exchanger and snapshot I/O.
//
// A Grid holds Rows x Cols interior cells surrounded by a one-cell border.
// Cells live in one flat row-major buffer with stride Cols+2; row 0, row
// Rows+1, column 0 and column Cols+1 are border cells that are read during an
// update but never owned.
package grid

import (
	"github.com/danmuck/lifegrid/internal/fault"
)

const (
	Dead  byte = 0
	Alive byte = 1

	// MaxDim bounds each axis of any grid or tile.
	MaxDim = 32767
)

// Grid is one exclusively owned bordered buffer tagged with its generation.
type Grid struct {
	Rows       int
	Cols       int
	Generation int
	AliveCount int

	cells []byte
}

// New allocates an all-DEAD grid of rows x cols interior cells.
func New(rows, cols int) (*Grid, error) {
	if err := CheckDims(rows, cols); err != nil {
		return nil, err
	}
	return &Grid{
		Rows:  rows,
		Cols:  cols,
		cells: make([]byte, (rows+2)*(cols+2)),
	}, nil
}

// FromRows builds a generation-0 grid from an interior matrix.
func FromRows(rows [][]byte) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fault.Newf(fault.KindDimension, "grid.FromRows", "empty matrix")
	}
	g, err := New(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != g.Cols {
			return nil, fault.Newf(fault.KindDimension, "grid.FromRows", "row %d has %d cells, want %d", i, len(row), g.Cols)
		}
		for j, v := range row {
			if v != Dead && v != Alive {
				return nil, fault.Newf(fault.KindParse, "grid.FromRows", "cell (%d,%d) has state %d", i, j, v)
			}
			g.Set(i+1, j+1, v)
		}
	}
	g.Recount()
	return g, nil
}

// CheckDims rejects interior dimensions outside 1..MaxDim.
func CheckDims(rows, cols int) error {
	if rows < 1 || rows > MaxDim || cols < 1 || cols > MaxDim {
		return fault.Newf(fault.KindDimension, "grid", "dimensions %dx%d outside 1..%d", rows, cols, MaxDim)
	}
	return nil
}

func (g *Grid) Stride() int {
	return g.Cols + 2
}

// Index returns the flat offset of bordered coordinate (r, c).
func (g *Grid) Index(r, c int) int {
	return r*(g.Cols+2) + c
}

func (g *Grid) At(r, c int) byte {
	return g.cells[r*(g.Cols+2)+c]
}

func (g *Grid) Set(r, c int, v byte) {
	g.cells[r*(g.Cols+2)+c] = v
}

// Cells exposes the flat bordered buffer. Callers must not retain it across generations.
func (g *Grid) Cells() []byte {
	return g.cells
}

// SameShape reports whether other has identical interior dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return other != nil && g.Rows == other.Rows && g.Cols == other.Cols
}

// Clone returns a deep copy that shares no storage with g.
func (g *Grid) Clone() *Grid {
	out := &Grid{
		Rows:       g.Rows,
		Cols:       g.Cols,
		Generation: g.Generation,
		AliveCount: g.AliveCount,
		cells:      make([]byte, len(g.cells)),
	}
	copy(out.cells, g.cells)
	return out
}

// Recount recomputes AliveCount from the interior cells.
func (g *Grid) Recount() int {
	n := 0
	stride := g.Cols + 2
	for r := 1; r <= g.Rows; r++ {
		row := g.cells[r*stride+1 : r*stride+1+g.Cols]
		for _, v := range row {
			if v == Alive {
				n++
			}
		}
	}
	g.AliveCount = n
	return n
}

// ClearBorder sets every border cell to DEAD.
func (g *Grid) ClearBorder() {
	g.FillRow(0, Dead)
	g.FillRow(g.Rows+1, Dead)
	g.FillColumn(0, 0, g.Rows+1, Dead)
	g.FillColumn(g.Cols+1, 0, g.Rows+1, Dead)
}

// Interior returns a copy of the owned cells as a row-major matrix.
func (g *Grid) Interior() [][]byte {
	out := make([][]byte, g.Rows)
	for r := 0; r < g.Rows; r++ {
		out[r] = make([]byte, g.Cols)
		g.Row(r+1, out[r])
	}
	return out
}

// InteriorEqual compares shape and owned cells, ignoring borders and metadata.
func (g *Grid) InteriorEqual(other *Grid) bool {
	if !g.SameShape(other) {
		return false
	}
	for r := 1; r <= g.Rows; r++ {
		for c := 1; c <= g.Cols; c++ {
			if g.At(r, c) != other.At(r, c) {
				return false
			}
		}
	}
	return true
}
