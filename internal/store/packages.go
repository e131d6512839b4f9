package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkgindex/registry/internal/registry"
)

// NewID returns a new row identifier
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time at the precision every driver round-trips
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func encodeList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList[T any](raw string) ([]T, error) {
	var items []T
	if raw == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("invalid list column: %w", err)
	}
	return items, nil
}

// FindPackageByName returns the package with name or ErrNotFound
func FindPackageByName(ctx context.Context, q Querier, name string) (*registry.Package, error) {
	p := &registry.Package{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM packages WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return p, nil
}

// InsertPackage inserts p, assigning ID and CreatedAt when unset
func InsertPackage(ctx context.Context, q Querier, p *registry.Package) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = Now()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO packages (id, name, created_at) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.CreatedAt)
	return ConvertDBError(err)
}

// FindCollaborator returns the collaborator with the (name, email) identity
// or ErrNotFound. An empty email matches collaborators without one.
func FindCollaborator(ctx context.Context, q Querier, name, email string) (*registry.Collaborator, error) {
	c := &registry.Collaborator{}
	var stored string
	err := q.QueryRowContext(ctx,
		`SELECT id, name, email FROM collaborators WHERE name = $1 AND email = $2`, name, email,
	).Scan(&c.ID, &c.Name, &stored)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	c.Email = emailPtr(stored)
	return c, nil
}

// InsertCollaborator inserts c, assigning ID when unset
func InsertCollaborator(ctx context.Context, q Querier, c *registry.Collaborator) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO collaborators (id, name, email, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.EmailKey(), Now())
	return ConvertDBError(err)
}

func emailPtr(stored string) *string {
	if stored == "" {
		return nil
	}
	return &stored
}
