package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lifegrid/internal/testutil/testlog"
	"github.com/danmuck/lifegrid/internal/topology"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestDialRetriesUntilListenerAppears(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	accepted := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		ln2, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer ln2.Close()
		if c, err := ln2.Accept(); err == nil {
			c.Close()
		}
		close(accepted)
	}()

	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{InitialDelay: 20 * time.Millisecond, Multiplier: 1.5, MaxDelay: 100 * time.Millisecond}
	conn, err := Dial(context.Background(), addr, cfg)
	if err != nil {
		t.Skipf("port %s was reused before the retry landed: %v", addr, err)
	}
	conn.Close()
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener never accepted")
	}
}

func TestDialGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultConfig()
	cfg.DialAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond}
	if _, err := Dial(context.Background(), addr, cfg); err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestControlRoundTrip(t *testing.T) {
	testlog.Start(t)
	layout, err := topology.Decompose(4, 4, 2, topology.Options{})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	msgs := []Control{
		{Type: TypeRegister, Register: &Registration{WorkerID: "w-1", HaloAddr: "127.0.0.1:9000"}},
		{Type: TypeAssign, Assign: &Assignment{
			Rank:   1,
			Layout: layout,
			Peers:  map[int]string{0: "127.0.0.1:9000", 1: "127.0.0.1:9001"},
			Run:    RunParams{RunID: "run-1", Steps: 3, Seed: 9, OutputPrefix: "out", Corners: "full"},
		}},
		{Type: TypeProgress, Progress: &Progress{Rank: 1, Generation: 2, Alive: 5}},
		{Type: TypeDone, Progress: &Progress{Rank: 1, Generation: 3, Alive: 4}},
		{Type: TypeFinalize},
		{Type: TypeAbort, Abort: &Abort{Rank: 0, Reason: "boom"}},
	}
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := WriteControl(&buf, m); err != nil {
			t.Fatalf("write %s: %v", m.Type, err)
		}
	}
	r := NewControlReader(&buf)
	for _, want := range msgs {
		got, err := ReadControl(r)
		if err != nil {
			t.Fatalf("read %s: %v", want.Type, err)
		}
		if got.Type != want.Type {
			t.Fatalf("got type %s want %s", got.Type, want.Type)
		}
	}
}

func TestAssignmentCarriesLayoutAndPeers(t *testing.T) {
	testlog.Start(t)
	layout, _ := topology.Decompose(4, 4, 2, topology.Options{})
	var buf bytes.Buffer
	in := Control{Type: TypeAssign, Assign: &Assignment{
		Rank:   0,
		Layout: layout,
		Peers:  map[int]string{1: "10.0.0.2:7000"},
		Run:    RunParams{RunID: "r", Steps: 1},
	}}
	if err := WriteControl(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadControl(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Assign.Peers[1] != "10.0.0.2:7000" || got.Assign.Layout.Px != layout.Px || len(got.Assign.Layout.Tiles) != 2 {
		t.Fatalf("unexpected assignment: %+v", got.Assign)
	}
}

func TestControlValidation(t *testing.T) {
	testlog.Start(t)
	if err := WriteControl(&bytes.Buffer{}, Control{Type: TypeRegister, Register: &Registration{WorkerID: "w"}}); !errors.Is(err, ErrInvalidControl) {
		t.Fatalf("expected ErrInvalidControl for missing halo addr, got %v", err)
	}
	layout, _ := topology.Decompose(4, 4, 2, topology.Options{})
	missingPeer := Control{Type: TypeAssign, Assign: &Assignment{Rank: 0, Layout: layout, Run: RunParams{RunID: "r"}}}
	if err := WriteControl(&bytes.Buffer{}, missingPeer); !errors.Is(err, ErrInvalidControl) {
		t.Fatalf("expected ErrInvalidControl for missing peer, got %v", err)
	}
	_, err := ReadControl(bufio.NewReader(strings.NewReader(`{"type":"nope"}` + "\n")))
	if !errors.Is(err, ErrInvalidControl) {
		t.Fatalf("expected ErrInvalidControl for unknown type, got %v", err)
	}
	_, err = ReadControl(bufio.NewReaderSize(strings.NewReader(strings.Repeat("x", 64)+"\n"), 16))
	if !errors.Is(err, ErrControlMessageTooLarge) {
		t.Fatalf("expected ErrControlMessageTooLarge, got %v", err)
	}
}

func TestHelloAndStripRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteHello(&buf, Hello{Rank: 3, RunID: "run-7"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	in := Strip{Rank: 3, Generation: 41, Tag: 2, Cells: []byte{0, 1, 1, 0, 1}}
	if err := WriteStrip(&buf, in); err != nil {
		t.Fatalf("write strip: %v", err)
	}
	h, err := ReadHello(&buf)
	if err != nil || h.Rank != 3 || h.RunID != "run-7" {
		t.Fatalf("hello: %+v %v", h, err)
	}
	s, err := ReadStrip(&buf)
	if err != nil {
		t.Fatalf("read strip: %v", err)
	}
	if s.Rank != 3 || s.Generation != 41 || s.Tag != 2 || !bytes.Equal(s.Cells, in.Cells) {
		t.Fatalf("strip mismatch: %+v", s)
	}
}

func TestReadStripRejectsHello(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteHello(&buf, Hello{Rank: 1, RunID: "r"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if _, err := ReadStrip(&buf); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
}
