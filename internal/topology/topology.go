// Package topology partitions the global domain into a Px x Py arrangement of
// equal tiles and derives each worker's bounded cardinal neighbours.
//
// Ranks are assigned row-major: rank = row*Py + col. Row 0 of the arrangement
// holds the top of the domain. Adjacency never wraps; a tile on the
// arrangement edge has NoNeighbor on that side.
package topology

import (
	"fmt"

	"github.com/danmuck/lifegrid/internal/fault"
)

// NoNeighbor marks a side that faces the fixed-dead global boundary.
const NoNeighbor = -1

// Direction names one cardinal side of a tile.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = [...]string{"up", "down", "left", "right"}

func (d Direction) String() string {
	if d < Up || d > Right {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// Opposite returns the side facing d.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	default:
		return Left
	}
}

// Directions lists every side in exchange order.
func Directions() []Direction {
	return []Direction{Up, Down, Left, Right}
}

// Topology describes one worker's tile and neighbours. It is immutable once built.
type Topology struct {
	Rank int `json:"rank"`
	Row  int `json:"row"`
	Col  int `json:"col"`

	RowOffset int `json:"row_offset"`
	ColOffset int `json:"col_offset"`
	Rows      int `json:"rows"`
	Cols      int `json:"cols"`

	Up    int `json:"up"`
	Down  int `json:"down"`
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Neighbor returns the rank on side d, or NoNeighbor.
func (t Topology) Neighbor(d Direction) int {
	switch d {
	case Up:
		return t.Up
	case Down:
		return t.Down
	case Left:
		return t.Left
	case Right:
		return t.Right
	default:
		return NoNeighbor
	}
}

// Neighbors returns every real neighbour rank keyed by side.
func (t Topology) Neighbors() map[Direction]int {
	out := make(map[Direction]int, 4)
	for _, d := range Directions() {
		if n := t.Neighbor(d); n != NoNeighbor {
			out[d] = n
		}
	}
	return out
}

// Layout is the full decomposition shared by every worker of one run.
type Layout struct {
	N        int        `json:"n"`
	M        int        `json:"m"`
	Px       int        `json:"px"`
	Py       int        `json:"py"`
	TileRows int        `json:"tile_rows"`
	TileCols int        `json:"tile_cols"`
	Tiles    []Topology `json:"tiles"`
}

// Workers returns the number of tiles.
func (l Layout) Workers() int {
	return l.Px * l.Py
}

// Tile returns the topology of rank.
func (l Layout) Tile(rank int) (Topology, error) {
	if rank < 0 || rank >= len(l.Tiles) {
		return Topology{}, fault.Newf(fault.KindTopology, "topology.Tile", "rank %d outside 0..%d", rank, len(l.Tiles)-1)
	}
	return l.Tiles[rank], nil
}

// Build lays out a fixed px x py arrangement over an n x m domain.
func Build(n, m, px, py int) (Layout, error) {
	if px < 1 || py < 1 {
		return Layout{}, fault.Newf(fault.KindTopology, "topology.Build", "arrangement %dx%d", px, py)
	}
	if n%px != 0 || m%py != 0 {
		return Layout{}, fault.Newf(fault.KindDimension, "topology.Build",
			"domain %dx%d does not divide evenly into %dx%d tiles", n, m, px, py)
	}
	l := Layout{
		N:        n,
		M:        m,
		Px:       px,
		Py:       py,
		TileRows: n / px,
		TileCols: m / py,
		Tiles:    make([]Topology, 0, px*py),
	}
	for row := 0; row < px; row++ {
		for col := 0; col < py; col++ {
			l.Tiles = append(l.Tiles, Topology{
				Rank:      row*py + col,
				Row:       row,
				Col:       col,
				RowOffset: row * l.TileRows,
				ColOffset: col * l.TileCols,
				Rows:      l.TileRows,
				Cols:      l.TileCols,
				Up:        l.rankAt(row-1, col),
				Down:      l.rankAt(row+1, col),
				Left:      l.rankAt(row, col-1),
				Right:     l.rankAt(row, col+1),
			})
		}
	}
	return l, nil
}

func (l Layout) rankAt(row, col int) int {
	if row < 0 || row >= l.Px || col < 0 || col >= l.Py {
		return NoNeighbor
	}
	return row*l.Py + col
}

// Validate checks coverage and neighbour symmetry. A layout that fails must
// never reach the exchanger: an asymmetric pair deadlocks the first round.
func (l Layout) Validate() error {
	const op = "topology.Validate"
	if l.Px < 1 || l.Py < 1 || len(l.Tiles) != l.Px*l.Py {
		return fault.Newf(fault.KindTopology, op, "%d tiles for %dx%d arrangement", len(l.Tiles), l.Px, l.Py)
	}
	if l.TileRows*l.Px != l.N || l.TileCols*l.Py != l.M {
		return fault.Newf(fault.KindDimension, op, "tiles %dx%d x %dx%d do not cover %dx%d",
			l.TileRows, l.TileCols, l.Px, l.Py, l.N, l.M)
	}
	seen := make(map[[2]int]bool, len(l.Tiles))
	for i, t := range l.Tiles {
		if t.Rank != i {
			return fault.Newf(fault.KindTopology, op, "tile %d carries rank %d", i, t.Rank)
		}
		if t.Row < 0 || t.Row >= l.Px || t.Col < 0 || t.Col >= l.Py {
			return fault.Newf(fault.KindTopology, op, "rank %d at (%d,%d) outside arrangement", i, t.Row, t.Col)
		}
		pos := [2]int{t.Row, t.Col}
		if seen[pos] {
			return fault.Newf(fault.KindTopology, op, "rank %d overlaps position (%d,%d)", i, t.Row, t.Col)
		}
		seen[pos] = true
		if t.Rows != l.TileRows || t.Cols != l.TileCols ||
			t.RowOffset != t.Row*l.TileRows || t.ColOffset != t.Col*l.TileCols {
			return fault.Newf(fault.KindDimension, op, "rank %d tile %dx%d at (%d,%d) breaks coverage",
				i, t.Rows, t.Cols, t.RowOffset, t.ColOffset)
		}
		for _, d := range Directions() {
			if err := l.checkSide(t, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l Layout) checkSide(t Topology, d Direction) error {
	const op = "topology.Validate"
	row, col := t.Row, t.Col
	switch d {
	case Up:
		row--
	case Down:
		row++
	case Left:
		col--
	case Right:
		col++
	}
	want := l.rankAt(row, col)
	got := t.Neighbor(d)
	if got != want {
		return fault.Newf(fault.KindTopology, op, "rank %d %s neighbour is %d, want %d", t.Rank, d, got, want)
	}
	if got == NoNeighbor {
		return nil
	}
	if back := l.Tiles[got].Neighbor(d.Opposite()); back != t.Rank {
		return fault.Newf(fault.KindTopology, op, "asymmetric pair: rank %d %s is %d but rank %d %s is %d",
			t.Rank, d, got, got, d.Opposite(), back)
	}
	return nil
}
