// Package life applies the Game of Life rule to one bordered tile.
package life

import (
	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
)

// Rule reports whether a cell is ALIVE next generation given its current
// state and its live-neighbour count.
func Rule(alive bool, n int) bool {
	return n == 3 || (n == 2 && alive)
}

// Step writes the generation after prev into next. prev must be fully
// bordered; only prev is read, so next never observes partial results.
// next's border is left DEAD for the following exchange to overwrite.
func Step(prev, next *grid.Grid) error {
	if prev == next {
		return fault.Newf(fault.KindArgument, "life.Step", "next aliases prev")
	}
	if !prev.SameShape(next) {
		return fault.Newf(fault.KindDimension, "life.Step",
			"shape mismatch %dx%d -> %dx%d", prev.Rows, prev.Cols, next.Rows, next.Cols)
	}

	src := prev.Cells()
	dst := next.Cells()
	stride := prev.Stride()
	count := 0
	for r := 1; r <= prev.Rows; r++ {
		up := (r - 1) * stride
		mid := r * stride
		down := (r + 1) * stride
		for c := 1; c <= prev.Cols; c++ {
			n := int(src[up+c-1]) + int(src[up+c]) + int(src[up+c+1]) +
				int(src[mid+c-1]) + int(src[mid+c+1]) +
				int(src[down+c-1]) + int(src[down+c]) + int(src[down+c+1])
			if Rule(src[mid+c] == grid.Alive, n) {
				dst[mid+c] = grid.Alive
				count++
			} else {
				dst[mid+c] = grid.Dead
			}
		}
	}
	next.ClearBorder()
	next.AliveCount = count
	next.Generation = prev.Generation + 1
	return nil
}

// Next allocates and returns the generation after prev.
func Next(prev *grid.Grid) (*grid.Grid, error) {
	next, err := grid.New(prev.Rows, prev.Cols)
	if err != nil {
		return nil, err
	}
	if err := Step(prev, next); err != nil {
		return nil, err
	}
	return next, nil
}
