package store

import (
	"context"
	"iter"
)

// Pages walks a keyset-paginated listing lazily. fetch is called once per
// page; iteration stops at the first short page, on error, or when the
// consumer stops.
func Pages[T any](ctx context.Context, size int, fetch func(ctx context.Context, p Page) ([]T, error), key func(T) string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		p := Page{Limit: size}
		size = p.Size()
		for {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			items, err := fetch(ctx, p)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, it := range items {
				if !yield(it, nil) {
					return
				}
			}
			if len(items) < size {
				return
			}
			p.After = key(items[len(items)-1])
		}
	}
}
