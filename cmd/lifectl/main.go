package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/lifegrid/internal/cluster"
	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/halo"
	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/danmuck/lifegrid/internal/snapshot"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/rs/zerolog/log"
)

const usage = `usage: lifectl [flags] <output-prefix> <saved-state> STEPS
       lifectl [flags] <output-prefix> N M STEPS`

type options struct {
	Prefix   string
	Snapshot string
	Rows     int
	Cols     int
	Steps    int

	Workers int
	Seed    int64
	SeedSet bool
	Corners string
	Policy  string
	Timeout time.Duration
	Px      int
	Py      int
	Echo    bool
	Shape   string
	Every   int
}

func defaultOptions() options {
	return options{
		Workers: 1,
		Shape:   "random",
		Every:   1,
		Corners: string(halo.CornersFull),
		Policy:  string(topology.PolicySquare),
		Timeout: 30 * time.Second,
	}
}

func main() {
	observability.InitLogger("lifectl")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the process exit code for args.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "lifectl: %v\n", err)
		return fault.ExitCode(err)
	}
	if err := execute(ctx, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "lifectl: %v\n", err)
		return fault.ExitCode(err)
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	const op = "lifectl"
	d := defaultOptions()
	fs := flag.NewFlagSet("lifectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}
	workers := fs.Int("workers", d.Workers, "number of workers")
	seed := fs.Int64("seed", 0, "base random seed; each worker adds its rank (default: wall clock)")
	corners := fs.String("corners", d.Corners, "halo corner policy: full or reference")
	policy := fs.String("policy", d.Policy, "worker arrangement policy: square or reference")
	timeout := fs.Duration("timeout", d.Timeout, "per-transfer halo timeout")
	px := fs.Int("px", 0, "pin the worker grid rows (with -py)")
	py := fs.Int("py", 0, "pin the worker grid columns (with -px)")
	echo := fs.Bool("echo", false, "also print every saved generation to stdout")
	shape := fs.String("shape", d.Shape, "initial shape without a saved state: random or cross")
	every := fs.Int("every", d.Every, "save one generation in every n, plus the last")
	configPath := fs.String("config", "", "TOML file with flag defaults")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return options{}, err
		}
		return options{}, fault.New(fault.KindArgument, op, err)
	}

	opts := d
	if path := strings.TrimSpace(*configPath); path != "" {
		if err := overlayConfig(path, &opts); err != nil {
			return options{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			opts.Workers = *workers
		case "seed":
			opts.Seed, opts.SeedSet = *seed, true
		case "corners":
			opts.Corners = *corners
		case "policy":
			opts.Policy = *policy
		case "timeout":
			opts.Timeout = *timeout
		case "px":
			opts.Px = *px
		case "py":
			opts.Py = *py
		case "echo":
			opts.Echo = *echo
		case "shape":
			opts.Shape = *shape
		case "every":
			opts.Every = *every
		}
	})

	rest := fs.Args()
	var counts []string
	switch len(rest) {
	case 3:
		opts.Prefix, opts.Snapshot = rest[0], rest[1]
		counts = rest[2:]
	case 4:
		opts.Prefix = rest[0]
		counts = rest[1:]
	default:
		return options{}, fault.Newf(fault.KindArgument, op, "expected 3 or 4 arguments, got %d\n%s", len(rest), usage)
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		return options{}, fault.Newf(fault.KindArgument, op, "empty output prefix")
	}
	nums := make([]int, len(counts))
	for i, raw := range counts {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return options{}, fault.Newf(fault.KindScan, op, "cannot read %q as an integer", raw)
		}
		nums[i] = v
	}
	if len(nums) == 3 {
		opts.Rows, opts.Cols = nums[0], nums[1]
	}
	opts.Steps = nums[len(nums)-1]
	if opts.Steps < 0 {
		return options{}, fault.Newf(fault.KindArgument, op, "STEPS must not be negative, got %d", opts.Steps)
	}
	if opts.Workers < 1 {
		return options{}, fault.Newf(fault.KindArgument, op, "-workers must be at least 1")
	}
	if (opts.Px == 0) != (opts.Py == 0) {
		return options{}, fault.Newf(fault.KindArgument, op, "-px and -py must be set together")
	}
	if opts.Every < 1 {
		return options{}, fault.Newf(fault.KindArgument, op, "-every must be at least 1")
	}
	switch opts.Shape {
	case "random", "cross":
	default:
		return options{}, fault.Newf(fault.KindArgument, op, "unknown shape %q", opts.Shape)
	}
	return opts, nil
}

func execute(ctx context.Context, opts options, stdout io.Writer) error {
	var initial *grid.Grid
	rows, cols := opts.Rows, opts.Cols
	if opts.Snapshot != "" {
		g, err := snapshot.Load(opts.Snapshot)
		if err != nil {
			return err
		}
		initial, rows, cols = g, g.Rows, g.Cols
	} else if err := grid.CheckDims(rows, cols); err != nil {
		return err
	} else if opts.Shape == "cross" {
		if initial, err = grid.Cross(rows, cols); err != nil {
			return err
		}
	}

	corners, err := halo.ParseCorners(opts.Corners)
	if err != nil {
		return err
	}
	policy, err := topology.ParsePolicy(opts.Policy)
	if err != nil {
		return err
	}
	layout, err := topology.Decompose(rows, cols, opts.Workers, topology.Options{Policy: policy, Px: opts.Px, Py: opts.Py})
	if err != nil {
		return err
	}
	if !opts.SeedSet {
		opts.Seed = time.Now().UnixNano()
	}

	last := opts.Steps
	if initial != nil {
		last += initial.Generation
	}
	sink := snapshot.FileSink{Prefix: opts.Prefix, Every: opts.Every, Last: last}
	if opts.Echo {
		sink.Echo = stdout
	}
	start := time.Now()
	final, err := cluster.Run(ctx, cluster.Options{
		Layout:  layout,
		Initial: initial,
		Seed:    opts.Seed,
		Steps:   opts.Steps,
		Corners: corners,
		Timeout: opts.Timeout,
		Out:     sink.Store,
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("prefix", opts.Prefix).
		Int("generation", final.Generation).
		Int("alive", final.AliveCount).
		Int64("seed", opts.Seed).
		Dur("elapsed", time.Since(start)).
		Msg("run complete")
	return nil
}
