package ingest

import (
	"context"
	"database/sql"

	"github.com/pkgindex/registry/internal/manifest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/store"
)

// Resolver finds or creates the entities a manifest references. It is
// scoped to one transaction and remembers what it resolved so a name listed
// under several fields costs one lookup.
type Resolver struct {
	tx            *sql.Tx
	packages      map[string]*registry.Package
	collaborators map[collaboratorKey]*registry.Collaborator
}

type collaboratorKey struct {
	name  string
	email string
}

// NewResolver creates a resolver bound to tx
func NewResolver(tx *sql.Tx) *Resolver {
	return &Resolver{
		tx:            tx,
		packages:      make(map[string]*registry.Package),
		collaborators: make(map[collaboratorKey]*registry.Collaborator),
	}
}

// Package returns the package named name, creating it when absent
func (r *Resolver) Package(ctx context.Context, name string) (*registry.Package, error) {
	if p, ok := r.packages[name]; ok {
		return p, nil
	}

	p, err := getOrCreate(ctx, r.tx,
		func() (*registry.Package, error) { return store.FindPackageByName(ctx, r.tx, name) },
		func() (*registry.Package, error) {
			p := &registry.Package{Name: name}
			return p, store.InsertPackage(ctx, r.tx, p)
		})
	if err != nil {
		return nil, err
	}
	r.packages[name] = p
	return p, nil
}

// Collaborator returns the collaborator with the person's (name, email)
// identity, creating it when absent
func (r *Resolver) Collaborator(ctx context.Context, person manifest.Person) (*registry.Collaborator, error) {
	c := &registry.Collaborator{Name: person.Name, Email: person.Email}
	key := collaboratorKey{name: c.Name, email: c.EmailKey()}
	if found, ok := r.collaborators[key]; ok {
		return found, nil
	}

	found, err := getOrCreate(ctx, r.tx,
		func() (*registry.Collaborator, error) { return store.FindCollaborator(ctx, r.tx, key.name, key.email) },
		func() (*registry.Collaborator, error) { return c, store.InsertCollaborator(ctx, r.tx, c) })
	if err != nil {
		return nil, err
	}
	r.collaborators[key] = found
	return found, nil
}

// Collaborators resolves people in order. A person listed twice resolves to
// the same collaborator and appears twice in the result.
func (r *Resolver) Collaborators(ctx context.Context, people []manifest.Person) ([]registry.Collaborator, error) {
	collaborators := make([]registry.Collaborator, 0, len(people))
	for _, person := range people {
		c, err := r.Collaborator(ctx, person)
		if err != nil {
			return nil, err
		}
		collaborators = append(collaborators, *c)
	}
	return collaborators, nil
}

// getOrCreate looks the entity up and inserts it inside a savepoint when
// absent. A unique violation on insert means a concurrent transaction
// created it first, so the lookup is repeated.
func getOrCreate[T any](ctx context.Context, tx *sql.Tx, find func() (T, error), create func() (T, error)) (T, error) {
	found, err := find()
	if !store.IsNotFound(err) {
		return found, err
	}

	var created T
	err = store.Savepoint(ctx, tx, func() error {
		var err error
		created, err = create()
		return err
	})
	if store.IsUniqueViolation(err) {
		return find()
	}
	return created, err
}
