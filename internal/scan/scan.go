// Package scan walks paginated store listings as iterators. A scan follows
// has-more/next-cursor until exhausted, yields items in arrival order and
// can only be restarted from the beginning.
package scan

import (
	"context"
	"fmt"
	"iter"

	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/store"
)

// PageError reports a failed page fetch. Page is 1-based.
type PageError struct {
	Page int
	Err  error
}

// Error implements the error interface
func (e *PageError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *PageError) Unwrap() error {
	return e.Err
}

// Initial reports whether the failure happened before any item was read.
func (e *PageError) Initial() bool {
	return e.Page == 1
}

// fetch returns one page of items.
type fetch[T any] func(ctx context.Context, cursor string) (items []T, more bool, next string, err error)

func pages[T any](ctx context.Context, get fetch[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cursor := ""
		for n := 1; ; n++ {
			items, more, next, err := get(ctx, cursor)
			if err != nil {
				yield(zero, &PageError{Page: n, Err: err})
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if !more || next == "" {
				return
			}
			cursor = next
		}
	}
}

// Records iterates every record of a table matching filter, which may be nil.
// A failed page is yielded once as a *PageError, which ends the sequence.
func Records(ctx context.Context, st store.Store, tableID string, filter *records.Filter) iter.Seq2[records.Record, error] {
	return pages(ctx, func(ctx context.Context, cursor string) ([]records.Record, bool, string, error) {
		page, err := st.Query(ctx, tableID, filter, cursor)
		if err != nil {
			return nil, false, "", err
		}
		return page.Records, page.HasMore, page.NextCursor, nil
	})
}

// Children iterates every direct child of a container.
func Children(ctx context.Context, st store.Store, containerID string) iter.Seq2[records.Node, error] {
	return pages(ctx, func(ctx context.Context, cursor string) ([]records.Node, bool, string, error) {
		page, err := st.ListChildren(ctx, containerID, cursor)
		if err != nil {
			return nil, false, "", err
		}
		return page.Children, page.HasMore, page.NextCursor, nil
	})
}

// Collect drains a sequence. On error it returns the items read so far.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
