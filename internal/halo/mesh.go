package halo

import (
	"context"
	"sync"

	"github.com/danmuck/lifegrid/internal/topology"
)

// meshDepth bounds strips in flight on one link. A rank can run at most one
// generation ahead of its neighbour on any link.
const meshDepth = 2

type linkKey struct {
	from, to int
	tag      Tag
}

type packet struct {
	generation uint64
	cells      []byte
}

// Mesh is an in-process transport: every directed link per tag is one
// buffered channel created on first use.
type Mesh struct {
	mu    sync.Mutex
	links map[linkKey]chan packet

	done      chan struct{}
	closeOnce sync.Once
}

func NewMesh() *Mesh {
	return &Mesh{
		links: make(map[linkKey]chan packet),
		done:  make(chan struct{}),
	}
}

// Endpoint returns the transport rank uses to reach its neighbours.
func (m *Mesh) Endpoint(rank int) Transport {
	return &meshEndpoint{mesh: m, rank: rank}
}

// Close releases every endpoint blocked in SendRecv.
func (m *Mesh) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *Mesh) link(from, to int, tag Tag) chan packet {
	key := linkKey{from: from, to: to, tag: tag}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.links[key]
	if !ok {
		ch = make(chan packet, meshDepth)
		m.links[key] = ch
	}
	return ch
}

type meshEndpoint struct {
	mesh *Mesh
	rank int
}

func (e *meshEndpoint) SendRecv(ctx context.Context, x Transfer) error {
	var sendCh, recvCh chan packet
	var out packet
	if x.Dst != topology.NoNeighbor {
		sendCh = e.mesh.link(e.rank, x.Dst, x.Tag)
		out = packet{generation: x.Generation, cells: append([]byte(nil), x.Out...)}
	}
	if x.Src != topology.NoNeighbor {
		recvCh = e.mesh.link(x.Src, e.rank, x.Tag)
	}
	for sendCh != nil || recvCh != nil {
		select {
		case sendCh <- out:
			sendCh = nil
		case p := <-recvCh:
			if err := checkStrip(x, x.Src, p.generation, len(p.cells)); err != nil {
				return err
			}
			copy(x.In, p.cells)
			recvCh = nil
		case <-ctx.Done():
			return ctx.Err()
		case <-e.mesh.done:
			return ErrClosed
		}
	}
	return nil
}

// Close is a no-op; the Mesh owns the links.
func (e *meshEndpoint) Close() error { return nil }
