// Package halo refreshes the one-cell border of a tile from its neighbours
// before every update.
//
// An exchange is four paired transfers in two phases. The row phase sends the
// first interior row up and the last interior row down. The column phase
// then sends the outer interior columns sideways. Sides facing the global
// boundary are filled DEAD.
package halo

import (
	"context"
	"errors"
	"fmt"
)

// Tag names a transfer by the direction its strips travel.
type Tag uint8

const (
	TagUp Tag = iota + 1
	TagDown
	TagLeft
	TagRight
)

func (t Tag) String() string {
	switch t {
	case TagUp:
		return "up"
	case TagDown:
		return "down"
	case TagLeft:
		return "left"
	case TagRight:
		return "right"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// ErrClosed is returned by a transport used after Close.
var ErrClosed = errors.New("halo: transport closed")

// Transfer is one paired send/receive. Out goes to Dst while In is filled
// from Src. topology.NoNeighbor on either side skips that half.
type Transfer struct {
	Generation uint64
	Tag        Tag
	Dst        int
	Out        []byte
	Src        int
	In         []byte
}

// Transport moves strips between ranks. SendRecv must perform both halves
// concurrently and return only when both finished or ctx ended.
type Transport interface {
	SendRecv(ctx context.Context, x Transfer) error
	Close() error
}

func checkStrip(x Transfer, from int, generation uint64, n int) error {
	if generation != x.Generation {
		return fmt.Errorf("halo: %s strip from rank %d is generation %d, want %d", x.Tag, from, generation, x.Generation)
	}
	if n != len(x.In) {
		return fmt.Errorf("halo: %s strip from rank %d has %d cells, want %d", x.Tag, from, n, len(x.In))
	}
	return nil
}
