// Package reconcile turns a full project snapshot into the persisted-state
// mutations needed to make storage equal to it.
package reconcile

import (
	"context"
	"fmt"
)

// Policy decides how a collection is brought to its target state.
type Policy int

const (
	// PreserveReferenced diffs by id: rows missing from the snapshot are
	// deleted, rows present on both sides are updated in place and new rows
	// are inserted. Row identity survives, so rows referenced from outside
	// the collection keep their id.
	PreserveReferenced Policy = iota + 1
	// ReplaceAll deletes every row in scope and inserts the snapshot. Only
	// valid for rows nothing else holds a durable reference to.
	ReplaceAll
)

func (p Policy) String() string {
	switch p {
	case PreserveReferenced:
		return "preserve-referenced"
	case ReplaceAll:
		return "replace-all"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Entry is an item with its position in the snapshot.
type Entry[T any] struct {
	Position int
	Item     T
}

// Ops are the storage operations one collection needs, already scoped to a
// project and bound to a transaction.
type Ops[T any] interface {
	ExistingIDs(ctx context.Context) ([]string, error)
	Insert(ctx context.Context, entries []Entry[T]) error
	Update(ctx context.Context, entry Entry[T]) error
	Delete(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) (int, error)
}

type Collection[T any] struct {
	Name   string
	Policy Policy
	ID     func(T) string
	Ops    Ops[T]
}

type Result struct {
	Collection string `json:"collection"`
	Policy     string `json:"policy"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
}

// Apply brings the collection to items according to its policy.
func (c Collection[T]) Apply(ctx context.Context, items []T) (Result, error) {
	result := Result{Collection: c.Name, Policy: c.Policy.String()}
	entries := make([]Entry[T], len(items))
	for i, item := range items {
		entries[i] = Entry[T]{Position: i, Item: item}
	}

	switch c.Policy {
	case ReplaceAll:
		deleted, err := c.Ops.DeleteAll(ctx)
		if err != nil {
			return result, fmt.Errorf("delete all: %w", err)
		}
		result.Deleted = deleted
		if len(entries) > 0 {
			if err := c.Ops.Insert(ctx, entries); err != nil {
				return result, fmt.Errorf("insert: %w", err)
			}
		}
		result.Inserted = len(entries)
		return result, nil

	case PreserveReferenced:
		existing, err := c.Ops.ExistingIDs(ctx)
		if err != nil {
			return result, fmt.Errorf("existing ids: %w", err)
		}
		stored := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			stored[id] = struct{}{}
		}
		wanted := make(map[string]struct{}, len(entries))
		var inserts []Entry[T]
		for _, entry := range entries {
			id := c.ID(entry.Item)
			wanted[id] = struct{}{}
			if _, ok := stored[id]; ok {
				if err := c.Ops.Update(ctx, entry); err != nil {
					return result, fmt.Errorf("update %s: %w", id, err)
				}
				result.Updated++
				continue
			}
			inserts = append(inserts, entry)
		}
		var removed []string
		for _, id := range existing {
			if _, ok := wanted[id]; !ok {
				removed = append(removed, id)
			}
		}
		if len(removed) > 0 {
			if err := c.Ops.Delete(ctx, removed); err != nil {
				return result, fmt.Errorf("delete: %w", err)
			}
			result.Deleted = len(removed)
		}
		if len(inserts) > 0 {
			if err := c.Ops.Insert(ctx, inserts); err != nil {
				return result, fmt.Errorf("insert: %w", err)
			}
			result.Inserted = len(inserts)
		}
		return result, nil

	default:
		return result, fmt.Errorf("collection %s: unknown %s", c.Name, c.Policy)
	}
}
