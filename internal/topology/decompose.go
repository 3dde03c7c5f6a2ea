package topology

import (
	"math"
	"strings"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
)

// Policy selects how a worker count is factored into an arrangement.
type Policy string

const (
	// PolicySquare tries every factor pair, most square first.
	PolicySquare Policy = "square"
	// PolicyReference takes Px = floor(sqrt(P)) and requires Px*(P/Px) == P.
	PolicyReference Policy = "reference"
)

// ParsePolicy normalizes a policy name; empty selects PolicySquare.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicySquare:
		return PolicySquare, nil
	case PolicyReference:
		return PolicyReference, nil
	default:
		return "", fault.Newf(fault.KindArgument, "topology.ParsePolicy", "unknown policy %q", raw)
	}
}

// Options tunes Decompose. A non-zero Px and Py pins the arrangement.
type Options struct {
	Policy Policy
	Px     int
	Py     int
}

// Factor returns candidate (Px, Py) pairs with Px*Py == p in preference order.
func Factor(p int, policy Policy) ([][2]int, error) {
	const op = "topology.Factor"
	if p < 1 {
		return nil, fault.Newf(fault.KindTopology, op, "worker count %d", p)
	}
	root := int(math.Sqrt(float64(p)))
	for (root+1)*(root+1) <= p {
		root++
	}
	for root*root > p {
		root--
	}

	if policy == PolicyReference {
		px := root
		py := p / px
		if px*py != p {
			return nil, fault.Newf(fault.KindTopology, op, "%d workers do not factor as %dx%d", p, px, py)
		}
		return [][2]int{{px, py}}, nil
	}

	out := make([][2]int, 0, 4)
	for a := root; a >= 1; a-- {
		if p%a != 0 {
			continue
		}
		out = append(out, [2]int{a, p / a})
		if a != p/a {
			out = append(out, [2]int{p / a, a})
		}
	}
	return out, nil
}

// Decompose partitions an n x m domain across p workers. It fails with a
// topology error when p cannot be arranged and with a dimension error when no
// candidate arrangement divides the domain evenly.
func Decompose(n, m, p int, opts Options) (Layout, error) {
	const op = "topology.Decompose"
	if err := grid.CheckDims(n, m); err != nil {
		return Layout{}, err
	}
	if opts.Px != 0 || opts.Py != 0 {
		if opts.Px*opts.Py != p {
			return Layout{}, fault.Newf(fault.KindTopology, op, "arrangement %dx%d does not hold %d workers", opts.Px, opts.Py, p)
		}
		return finish(Build(n, m, opts.Px, opts.Py))
	}

	candidates, err := Factor(p, opts.Policy)
	if err != nil {
		return Layout{}, err
	}
	for _, c := range candidates {
		if n%c[0] == 0 && m%c[1] == 0 {
			return finish(Build(n, m, c[0], c[1]))
		}
	}
	best := candidates[0]
	return Layout{}, fault.Newf(fault.KindDimension, op,
		"domain %dx%d has no even split across %d workers (closest %dx%d)", n, m, p, best[0], best[1])
}

func finish(l Layout, err error) (Layout, error) {
	if err != nil {
		return Layout{}, err
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}
