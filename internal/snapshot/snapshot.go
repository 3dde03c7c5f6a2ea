// Package snapshot reads and writes the plain-text grid format:
//
//	P1
//	# generation=<g>  alive=<c>
//	<cols> <rows>
//	<rows lines of "0 " / "1 " tokens>
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
)

const magic = "P1"

// FileName is the whole-domain snapshot name for generation gen.
func FileName(prefix string, gen int) string {
	return fmt.Sprintf("%s-%04d", prefix, gen)
}

// RankFileName names the snapshot of a single rank's tile.
func RankFileName(prefix string, gen, rank int) string {
	return fmt.Sprintf("%s.r%d", FileName(prefix, gen), rank)
}

func Load(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.KindIO, "snapshot.Load", err)
	}
	defer f.Close()
	g, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Read parses one snapshot. The stored alive count is advisory; it is
// recounted from the cells.
func Read(r io.Reader) (*grid.Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

	gen, cols, rows, err := readHeader(next)
	if err != nil {
		if scanErr := sc.Err(); scanErr != nil {
			return nil, fault.New(fault.KindIO, "snapshot.Read", scanErr)
		}
		return nil, err
	}
	if err := grid.CheckDims(rows, cols); err != nil {
		return nil, err
	}
	g, err := grid.New(rows, cols)
	if err != nil {
		return nil, err
	}
	g.Generation = gen
	for r := 1; r <= rows; r++ {
		for c := 1; c <= cols; c++ {
			tok, ok := next()
			if !ok {
				if scanErr := sc.Err(); scanErr != nil {
					return nil, fault.New(fault.KindIO, "snapshot.Read", scanErr)
				}
				return nil, fault.Newf(fault.KindParse, "snapshot.Read", "cell (%d,%d): unexpected end of input", r-1, c-1)
			}
			v, err := strconv.Atoi(tok)
			if err != nil || (v != 0 && v != 1) {
				return nil, fault.Newf(fault.KindParse, "snapshot.Read", "cell (%d,%d): bad token %q", r-1, c-1, tok)
			}
			g.Set(r, c, byte(v))
		}
	}
	g.Recount()
	return g, nil
}

func readHeader(next func() (string, bool)) (gen, cols, rows int, err error) {
	bad := func(what string) error {
		return fault.Newf(fault.KindFormat, "snapshot.Read", "invalid header: %s", what)
	}
	if tok, ok := next(); !ok || tok != magic {
		return 0, 0, 0, bad("missing " + magic)
	}
	if tok, ok := next(); !ok || tok != "#" {
		return 0, 0, 0, bad("missing metadata line")
	}
	if gen, err = keyed(next, "generation="); err != nil || gen < 0 {
		return 0, 0, 0, bad("generation")
	}
	if _, err = keyed(next, "alive="); err != nil {
		return 0, 0, 0, bad("alive")
	}
	if cols, err = plain(next); err != nil {
		return 0, 0, 0, bad("cols")
	}
	if rows, err = plain(next); err != nil {
		return 0, 0, 0, bad("rows")
	}
	return gen, cols, rows, nil
}

func keyed(next func() (string, bool), key string) (int, error) {
	tok, ok := next()
	if !ok || !strings.HasPrefix(tok, key) {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(strings.TrimPrefix(tok, key))
}

func plain(next func() (string, bool)) (int, error) {
	tok, ok := next()
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(tok)
}

func Save(path string, g *grid.Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return fault.New(fault.KindIO, "snapshot.Save", err)
	}
	if err := Write(f, g); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fault.New(fault.KindIO, "snapshot.Save", err)
	}
	return nil
}

func Write(w io.Writer, g *grid.Grid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n# generation=%d  alive=%d\n%d %d\n", magic, g.Generation, g.AliveCount, g.Cols, g.Rows)
	line := make([]byte, 0, 2*g.Cols+1)
	for r := 1; r <= g.Rows; r++ {
		line = line[:0]
		for c := 1; c <= g.Cols; c++ {
			line = append(line, '0'+g.At(r, c), ' ')
		}
		line = append(line, '\n')
		bw.Write(line)
	}
	if err := bw.Flush(); err != nil {
		return fault.New(fault.KindIO, "snapshot.Write", err)
	}
	return nil
}

// Echo dumps g followed by a blank line, for terminal output.
func Echo(w io.Writer, g *grid.Grid) error {
	if err := Write(w, g); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fault.New(fault.KindIO, "snapshot.Echo", err)
	}
	return nil
}
