package rangescheme

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runner calls fn for every cover node index in [0, n).
type runner func(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error

func sequential(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// concurrent runs nodes on at most limit goroutines and returns once all of
// them are done.
func concurrent(limit int) runner {
	return func(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fn(ctx, i)
			})
		}
		return g.Wait()
	}
}
