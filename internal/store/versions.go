package store

import (
	"context"
	"fmt"

	"github.com/pkgindex/registry/internal/registry"
)

// InsertVersion inserts the package version row. Association rows are
// inserted separately.
func InsertVersion(ctx context.Context, q Querier, v *registry.PackageVersion) error {
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = Now()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}

	lists := make([]string, 5)
	for i, l := range [][]string{v.URL, v.Depends, v.Imports, v.Suggests, v.Enhances} {
		encoded, err := encodeList(l)
		if err != nil {
			return err
		}
		lists[i] = encoded
	}

	_, err := q.ExecContext(ctx, `
INSERT INTO package_versions (
	id, package_id, package_name, version, title, description, release_date,
	license, url, copyright, author, maintainer_id,
	depends, imports, suggests, enhances, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		v.ID, v.PackageID, v.PackageName, v.Version, v.Title, v.Description, v.ReleaseDate,
		v.License, lists[0], v.Copyright, v.Author, v.MaintainerID,
		lists[1], lists[2], lists[3], lists[4], v.CreatedAt, v.UpdatedAt)
	return ConvertDBError(err)
}

// InsertVersionAuthor links an author to a version at a list position
func InsertVersionAuthor(ctx context.Context, q Querier, versionID, collaboratorID string, ordinal int) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO version_authors (package_version_id, collaborator_id, ordinal) VALUES ($1, $2, $3)`,
		versionID, collaboratorID, ordinal)
	return ConvertDBError(err)
}

// InsertVersionDependency links a dependency package to a version at a list position
func InsertVersionDependency(ctx context.Context, q Querier, versionID string, dep registry.Dependency, ordinal int) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO version_dependencies (package_version_id, package_id, kind, constraint_spec, ordinal) VALUES ($1, $2, $3, $4, $5)`,
		versionID, dep.PackageID, string(dep.Kind), dep.Constraint, ordinal)
	return ConvertDBError(err)
}

// FindVersionID returns the id of the version identified by (name, version)
func FindVersionID(ctx context.Context, q Querier, name, version string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM package_versions WHERE package_name = $1 AND version = $2`, name, version,
	).Scan(&id)
	if err != nil {
		return "", ConvertDBError(err)
	}
	return id, nil
}

// CountVersions returns how many rows exist for (name, version)
func CountVersions(ctx context.Context, q Querier, name, version string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM package_versions WHERE package_name = $1 AND version = $2`, name, version,
	).Scan(&n)
	return n, ConvertDBError(err)
}

// FindVersion returns the version identified by (name, version) with its
// maintainer, or ErrNotFound
func FindVersion(ctx context.Context, q Querier, name, version string) (*registry.PackageVersion, error) {
	v := &registry.PackageVersion{Maintainer: &registry.Collaborator{}}
	var (
		url, depends, imports, suggests, enhances string
		maintainerEmail                           string
	)
	err := q.QueryRowContext(ctx, `
SELECT v.id, v.package_id, v.package_name, v.version, v.title, v.description,
	v.release_date, v.license, v.url, v.copyright, v.author, v.maintainer_id,
	m.name, m.email, v.depends, v.imports, v.suggests, v.enhances,
	v.created_at, v.updated_at
FROM package_versions v
JOIN collaborators m ON m.id = v.maintainer_id
WHERE v.package_name = $1 AND v.version = $2`, name, version,
	).Scan(&v.ID, &v.PackageID, &v.PackageName, &v.Version, &v.Title, &v.Description,
		&v.ReleaseDate, &v.License, &url, &v.Copyright, &v.Author, &v.MaintainerID,
		&v.Maintainer.Name, &maintainerEmail, &depends, &imports, &suggests, &enhances,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	v.Maintainer.ID = v.MaintainerID
	v.Maintainer.Email = emailPtr(maintainerEmail)

	for _, col := range []struct {
		dst *[]string
		raw string
	}{{&v.URL, url}, {&v.Depends, depends}, {&v.Imports, imports}, {&v.Suggests, suggests}, {&v.Enhances, enhances}} {
		list, err := decodeList[string](col.raw)
		if err != nil {
			return nil, fmt.Errorf("version %s: %w", v.ID, err)
		}
		*col.dst = list
	}
	return v, nil
}

// ListVersionAuthors returns the authors of a version in manifest order
func ListVersionAuthors(ctx context.Context, q Querier, versionID string) ([]registry.Collaborator, error) {
	rows, err := q.QueryContext(ctx, `
SELECT c.id, c.name, c.email
FROM version_authors a
JOIN collaborators c ON c.id = a.collaborator_id
WHERE a.package_version_id = $1
ORDER BY a.ordinal`, versionID)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	authors := []registry.Collaborator{}
	for rows.Next() {
		var c registry.Collaborator
		var email string
		if err := rows.Scan(&c.ID, &c.Name, &email); err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		c.Email = emailPtr(email)
		authors = append(authors, c)
	}
	return authors, rows.Err()
}

// ListVersionDependencies returns the dependencies of a version grouped by
// kind in manifest field order
func ListVersionDependencies(ctx context.Context, q Querier, versionID string) ([]registry.Dependency, error) {
	rows, err := q.QueryContext(ctx, `
SELECT p.id, p.name, d.kind, d.constraint_spec
FROM version_dependencies d
JOIN packages p ON p.id = d.package_id
WHERE d.package_version_id = $1
ORDER BY CASE d.kind
	WHEN 'depends' THEN 0
	WHEN 'imports' THEN 1
	WHEN 'suggests' THEN 2
	ELSE 3 END, d.ordinal`, versionID)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	deps := []registry.Dependency{}
	for rows.Next() {
		var d registry.Dependency
		var kind string
		if err := rows.Scan(&d.PackageID, &d.Name, &kind, &d.Constraint); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		d.Kind = registry.DependencyKind(kind)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// ListPackageVersions returns up to limit versions of a package, newest first
func ListPackageVersions(ctx context.Context, q Querier, packageID string, limit int) ([]registry.SiblingVersion, error) {
	rows, err := q.QueryContext(ctx, `
SELECT version, title, release_date
FROM package_versions
WHERE package_id = $1
ORDER BY release_date DESC, version DESC
LIMIT $2`, packageID, limit)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	versions := []registry.SiblingVersion{}
	for rows.Next() {
		var s registry.SiblingVersion
		if err := rows.Scan(&s.Version, &s.Title, &s.ReleaseDate); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, s)
	}
	return versions, rows.Err()
}
