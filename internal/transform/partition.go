package transform

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Options controls partitioned processing.
type Options struct {
	Workers       int
	PartitionSize int
}

// DefaultOptions returns GOMAXPROCS workers over partitions of 5000 rows.
func DefaultOptions() Options {
	return Options{Workers: runtime.GOMAXPROCS(0), PartitionSize: 5000}
}

// Normalized fills unset fields with defaults.
func (o Options) Normalized() Options {
	if o.Workers < 1 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.PartitionSize < 1 {
		o.PartitionSize = 5000
	}
	return o
}

// NumPartitions returns how many partitions n rows split into.
func NumPartitions(n, size int) int {
	if n == 0 {
		return 0
	}
	if size < 1 {
		size = 5000
	}
	return (n + size - 1) / size
}

// MapPartitions splits rows into contiguous partitions and maps each one on
// a bounded pool of goroutines. The output preserves input order. fn
// receives the partition index so callers can keep per-partition state in
// slots sized with NumPartitions. The first error cancels the rest.
func MapPartitions[In, Out any](ctx context.Context, rows []In, opts Options, fn func(ctx context.Context, part int, rows []In) ([]Out, error)) ([]Out, error) {
	opts = opts.Normalized()
	n := NumPartitions(len(rows), opts.PartitionSize)
	results := make([][]Out, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for p := 0; p < n; p++ {
		lo := p * opts.PartitionSize
		hi := min(lo+opts.PartitionSize, len(rows))

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, p, rows[lo:hi])
			if err != nil {
				return fmt.Errorf("partition %d: %w", p, err)
			}
			results[p] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]Out, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
