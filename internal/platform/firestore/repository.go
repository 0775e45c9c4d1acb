package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed access to documents stored as T. T must be a struct carrying
// firestore tags.
type Collection[T any] struct {
	provider *Provider
	path     string
}

// NewCollection binds a typed helper to a collection path. Nested paths such as
// "users/u1/orders" are accepted.
func NewCollection[T any](provider *Provider, path string) *Collection[T] {
	return &Collection[T]{provider: provider, path: strings.Trim(strings.TrimSpace(path), "/")}
}

// Doc returns the reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes the document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return Decode[T](snap)
}

// Create writes a new document and fails with a conflict when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Set upserts the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Query runs the built query and decodes every document.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]T, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		value, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// Decode hydrates T from a snapshot.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var value T
	if err := snap.DataTo(&value); err != nil {
		id := ""
		if snap.Ref != nil {
			id = snap.Ref.ID
		}
		return value, fmt.Errorf("firestore: decode %s: %w", id, err)
	}
	return value, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("firestore.collection", errors.New("firestore: provider is nil"))
	}
	if c.path == "" {
		return nil, WrapError("firestore.collection", errors.New("firestore: collection path is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	segments := strings.Split(c.path, "/")
	if len(segments)%2 == 0 {
		return nil, WrapError(c.op("collection"), fmt.Errorf("firestore: %q is not a collection path", c.path))
	}
	coll := client.Collection(segments[0])
	for i := 1; i+1 < len(segments); i += 2 {
		coll = coll.Doc(segments[i]).Collection(segments[i+1])
	}
	return coll, nil
}

func (c *Collection[T]) op(action string) string {
	if c == nil || c.path == "" {
		return "firestore." + action
	}
	return c.path + "." + action
}
