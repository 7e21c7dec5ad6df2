package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrKeyMismatch is returned when a build function produces an entity whose
// key differs from the one that was looked up.
var ErrKeyMismatch = errors.New("store: built entity key mismatch")

// KeyedPtr constrains a pointer to a keyed model type.
type KeyedPtr[T any] interface {
	*T
	Keyed
}

// GetOrCreate returns the row of type T stored under key. When no row exists
// build is called to construct one, which is then inserted. build is never
// called if the row already exists. created reports whether this call
// inserted the row.
func GetOrCreate[T any, P KeyedPtr[T]](ctx context.Context, q Querier, key any, build func() (P, error)) (P, bool, error) {
	return GetOrCreateAndLink[T, P](ctx, q, key, build, "")
}

// GetOrCreateAndLink behaves like GetOrCreate, and additionally attaches a
// newly created entity to each parent under rel before it is inserted. An
// existing row is returned as is and no parent is touched.
func GetOrCreateAndLink[T any, P KeyedPtr[T]](ctx context.Context, q Querier, key any, build func() (P, error), rel Relation, parents ...Parent) (P, bool, error) {
	spec := P(new(T)).spec()

	found, err := get[T, P](ctx, q, spec, key)
	if err != nil || found != nil {
		return found, false, err
	}

	obj, err := build()
	if err != nil {
		return nil, false, fmt.Errorf("build %s %v: %w", spec.name, key, err)
	}
	if obj == nil {
		return nil, false, fmt.Errorf("build %s %v: nil entity", spec.name, key)
	}
	if k := obj.keyValue(); k != key {
		return nil, false, fmt.Errorf("%w: %s looked up %v, built %v", ErrKeyMismatch, spec.name, key, k)
	}

	for _, p := range parents {
		if err := p.Attach(rel, obj); err != nil {
			return nil, false, err
		}
	}

	inserted, err := insert(ctx, q, obj)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return obj, true, nil
	}

	// Another writer inserted the same key first; theirs wins.
	found, err = get[T, P](ctx, q, spec, key)
	if err != nil {
		return nil, false, err
	}
	if found == nil {
		return nil, false, fmt.Errorf("get %s %v: conflicting row vanished", spec.name, key)
	}
	return found, false, nil
}

// AppendSnapshot links snap to author and inserts it.
func AppendSnapshot(ctx context.Context, q Querier, author *Author, snap *AuthorSnapshot) error {
	if err := author.Attach(RelationSnapshots, snap); err != nil {
		return err
	}
	if _, err := insert(ctx, q, snap); err != nil {
		return err
	}
	return nil
}

func get[T any, P KeyedPtr[T]](ctx context.Context, q Querier, spec tableSpec, key any) (P, error) {
	query := q.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(spec.insert, ", "), spec.name, spec.key))

	var row T
	if err := sqlx.GetContext(ctx, q, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s %v: %w", spec.name, key, err)
	}
	return &row, nil
}

// insert writes e and reports whether a row was added. Keyed tables ignore a
// conflicting key instead of failing.
func insert(ctx context.Context, q Querier, e Entity) (bool, error) {
	spec := e.spec()
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (:%s)",
		spec.name, strings.Join(spec.insert, ", "), strings.Join(spec.insert, ", :"))
	if spec.key != "" {
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", spec.key)
	}

	res, err := sqlx.NamedExecContext(ctx, q, query, e)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", spec.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s: rows affected: %w", spec.name, err)
	}
	return n > 0, nil
}
