package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/life"
	"github.com/danmuck/lifegrid/internal/snapshot"
	"github.com/danmuck/lifegrid/internal/testutil/testlog"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRandomRunWritesEveryGeneration(t *testing.T) {
	testlog.Start(t)
	prefix := filepath.Join(t.TempDir(), "life")
	code, _, stderr := runCLI(t, "-workers", "4", "-seed", "3", prefix, "8", "8", "3")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for gen := 0; gen <= 3; gen++ {
		g, err := snapshot.Load(snapshot.FileName(prefix, gen))
		if err != nil {
			t.Fatalf("generation %d: %v", gen, err)
		}
		if g.Rows != 8 || g.Cols != 8 || g.Generation != gen {
			t.Fatalf("generation %d header: %dx%d gen %d", gen, g.Rows, g.Cols, g.Generation)
		}
	}

	again := filepath.Join(t.TempDir(), "life")
	if code, _, stderr := runCLI(t, "-workers", "4", "-seed", "3", again, "8", "8", "0"); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	a, _ := snapshot.Load(snapshot.FileName(prefix, 0))
	b, _ := snapshot.Load(snapshot.FileName(again, 0))
	if !a.InteriorEqual(b) {
		t.Fatalf("same seed produced different initial grids")
	}
}

func TestSavedStateRunContinuesGenerations(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	start, err := grid.FromRows([][]byte{
		{0, 0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0},
		{0, 0, 1, 0, 0, 0},
		{0, 0, 1, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	start.Generation = 5
	state := filepath.Join(dir, "saved")
	if err := snapshot.Save(state, start); err != nil {
		t.Fatalf("save: %v", err)
	}
	prefix := filepath.Join(dir, "out")
	code, stdout, stderr := runCLI(t, "-workers", "4", "-echo", prefix, state, "2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Count(stdout, "P1") != 3 {
		t.Fatalf("echo should print generations 5..7:\n%s", stdout)
	}

	want := start.Clone()
	for gen := 6; gen <= 7; gen++ {
		want.ClearBorder()
		if want, err = life.Next(want); err != nil {
			t.Fatalf("next: %v", err)
		}
		got, err := snapshot.Load(snapshot.FileName(prefix, gen))
		if err != nil {
			t.Fatalf("load gen %d: %v", gen, err)
		}
		if !got.InteriorEqual(want) {
			t.Fatalf("generation %d: got %v want %v", gen, got.Interior(), want.Interior())
		}
	}
}

func TestDefaultsAcceptOddDomains(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, dims := range [][2]string{{"3", "3"}, {"101", "101"}} {
		prefix := filepath.Join(dir, "odd"+dims[0])
		if code, _, stderr := runCLI(t, prefix, dims[0], dims[1], "1"); code != 0 {
			t.Fatalf("%sx%s: exit %d: %s", dims[0], dims[1], code, stderr)
		}
		if _, err := snapshot.Load(snapshot.FileName(prefix, 1)); err != nil {
			t.Fatalf("%sx%s: %v", dims[0], dims[1], err)
		}
	}
}

func TestCrossShapeWithInterval(t *testing.T) {
	testlog.Start(t)
	prefix := filepath.Join(t.TempDir(), "cross")
	code, _, stderr := runCLI(t, "-shape", "cross", "-every", "2", "-workers", "4", prefix, "6", "6", "3")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	start, err := snapshot.Load(snapshot.FileName(prefix, 0))
	if err != nil {
		t.Fatalf("generation 0: %v", err)
	}
	want, _ := grid.Cross(6, 6)
	if !start.InteriorEqual(want) {
		t.Fatalf("generation 0 should be the cross")
	}
	for gen, kept := range map[int]bool{1: false, 2: true, 3: true} {
		_, err := os.Stat(snapshot.FileName(prefix, gen))
		if kept != (err == nil) {
			t.Fatalf("generation %d: kept=%v stat err=%v", gen, kept, err)
		}
	}
	if code, _, _ := runCLI(t, "-shape", "glider", prefix, "6", "6", "1"); code != 1 {
		t.Fatalf("unknown shape should be an argument error, got %d", code)
	}
}

func TestExitCodesPerFailureClass(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}
	badHeader := write("bad-header", "P2\n# generation=0  alive=0\n2 2\n0 0\n0 0\n")
	badCell := write("bad-cell", "P1\n# generation=0  alive=0\n2 2\n0 7\n0 0\n")
	prefix := filepath.Join(dir, "out")

	for _, tc := range []struct {
		name string
		args []string
		code int
	}{
		{"too few arguments", []string{prefix, "8"}, 1},
		{"negative steps", []string{prefix, "8", "8", "-1"}, 1},
		{"unknown flag", []string{"-bogus", prefix, "8", "8", "1"}, 1},
		{"non-integer size", []string{prefix, "eight", "8", "1"}, 2},
		{"missing saved state", []string{prefix, filepath.Join(dir, "absent"), "1"}, 3},
		{"bad header", []string{prefix, badHeader, "1"}, 4},
		{"zero rows", []string{prefix, "0", "8", "1"}, 5},
		{"uneven split", []string{"-workers", "3", prefix, "8", "8", "1"}, 5},
		{"bad cell", []string{"-workers", "1", prefix, badCell, "1"}, 6},
		{"unfactorable workers", []string{"-workers", "7", "-policy", "reference", prefix, "14", "14", "1"}, 7},
	} {
		code, _, stderr := runCLI(t, tc.args...)
		if code != tc.code {
			t.Fatalf("%s: exit %d want %d (%s)", tc.name, code, tc.code, stderr)
		}
	}
}

func TestConfigOverlayAndFlagPrecedence(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "lifectl.toml")
	content := `
workers = 6
seed = 42
corners = "reference"
timeout = "2s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var stderr bytes.Buffer
	opts, err := parseArgs([]string{"-config", path, "-workers", "2", "out", "8", "8", "1"}, &stderr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Workers != 2 {
		t.Fatalf("flag should win over config: workers=%d", opts.Workers)
	}
	if opts.Seed != 42 || !opts.SeedSet || opts.Corners != "reference" || opts.Timeout != 2*time.Second {
		t.Fatalf("config not applied: %+v", opts)
	}
	if opts.Policy != "square" {
		t.Fatalf("undefined key should keep default: %q", opts.Policy)
	}
}

func TestConfigBadDuration(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "lifectl.toml")
	if err := os.WriteFile(path, []byte(`timeout = "soon"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	opts := defaultOptions()
	if err := overlayConfig(path, &opts); err == nil {
		t.Fatalf("expected parse error")
	}
}
