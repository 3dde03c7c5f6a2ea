package grid

import (
	"math/rand"

	"github.com/danmuck/lifegrid/internal/fault"
)

// Extract copies the rows x cols window of global's interior starting at
// interior offset (rowOff, colOff) into a new tile. Generation carries over.
func Extract(global *Grid, rowOff, colOff, rows, cols int) (*Grid, error) {
	if rowOff < 0 || colOff < 0 || rowOff+rows > global.Rows || colOff+cols > global.Cols {
		return nil, fault.Newf(fault.KindDimension, "grid.Extract",
			"window %dx%d at (%d,%d) outside %dx%d", rows, cols, rowOff, colOff, global.Rows, global.Cols)
	}
	tile, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	for r := 1; r <= rows; r++ {
		src := global.Index(rowOff+r, colOff+1)
		dst := tile.Index(r, 1)
		copy(tile.cells[dst:dst+cols], global.cells[src:src+cols])
	}
	tile.Generation = global.Generation
	tile.Recount()
	return tile, nil
}

// Place copies tile's interior into g at interior offset (rowOff, colOff).
// The caller recounts g once every tile is placed.
func (g *Grid) Place(tile *Grid, rowOff, colOff int) error {
	if rowOff < 0 || colOff < 0 || rowOff+tile.Rows > g.Rows || colOff+tile.Cols > g.Cols {
		return fault.Newf(fault.KindDimension, "grid.Place",
			"tile %dx%d at (%d,%d) outside %dx%d", tile.Rows, tile.Cols, rowOff, colOff, g.Rows, g.Cols)
	}
	for r := 1; r <= tile.Rows; r++ {
		src := tile.Index(r, 1)
		dst := g.Index(rowOff+r, colOff+1)
		copy(g.cells[dst:dst+tile.Cols], tile.cells[src:src+tile.Cols])
	}
	return nil
}

// Random fills a new generation-0 grid, each interior cell ALIVE with
// probability one half. The same seed always yields the same grid.
func Random(rows, cols int, seed int64) (*Grid, error) {
	g, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	for r := 1; r <= rows; r++ {
		for c := 1; c <= cols; c++ {
			g.Set(r, c, byte(rng.Intn(2)))
		}
	}
	g.Recount()
	return g, nil
}

// Cross fills the middle interior row and column, a deterministic start that
// spreads across every tile of a decomposition.
func Cross(rows, cols int) (*Grid, error) {
	g, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	g.FillRow(rows/2+1, Alive)
	for r := 1; r <= rows; r++ {
		g.Set(r, cols/2+1, Alive)
	}
	g.Recount()
	return g, nil
}
