package grid

// Row copies interior columns 1..Cols of row r into dst and returns it.
// dst is reallocated when shorter than Cols.
func (g *Grid) Row(r int, dst []byte) []byte {
	if cap(dst) < g.Cols {
		dst = make([]byte, g.Cols)
	}
	dst = dst[:g.Cols]
	start := g.Index(r, 1)
	copy(dst, g.cells[start:start+g.Cols])
	return dst
}

// SetRow writes src into interior columns 1..Cols of row r.
func (g *Grid) SetRow(r int, src []byte) {
	start := g.Index(r, 1)
	copy(g.cells[start:start+g.Cols], src)
}

// FillRow sets interior columns 1..Cols of row r to v.
func (g *Grid) FillRow(r int, v byte) {
	start := g.Index(r, 1)
	row := g.cells[start : start+g.Cols]
	for i := range row {
		row[i] = v
	}
}

// Column copies rows from..to (inclusive) of column c into dst and returns it.
func (g *Grid) Column(c, from, to int, dst []byte) []byte {
	n := to - from + 1
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	stride := g.Cols + 2
	idx := from*stride + c
	for i := 0; i < n; i++ {
		dst[i] = g.cells[idx]
		idx += stride
	}
	return dst
}

// SetColumn writes src into column c starting at row from.
func (g *Grid) SetColumn(c, from int, src []byte) {
	stride := g.Cols + 2
	idx := from*stride + c
	for _, v := range src {
		g.cells[idx] = v
		idx += stride
	}
}

// FillColumn sets rows from..to (inclusive) of column c to v.
func (g *Grid) FillColumn(c, from, to int, v byte) {
	stride := g.Cols + 2
	for r := from; r <= to; r++ {
		g.cells[r*stride+c] = v
	}
}
