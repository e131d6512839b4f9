// Package ingest turns submitted manifests and documentation topics into
// persisted registry records. Every write runs in one transaction and every
// failure leaves as a single classified *registry.Error.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/manifest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/store"
	"github.com/pkgindex/registry/internal/telemetry"
)

// ManifestInput is a manifest submission: raw DESCRIPTION text or a decoded
// JSON object of fields. Fields wins when both are set.
type ManifestInput struct {
	Raw    string
	Fields map[string]any
}

func (in ManifestInput) decode() (*manifest.Description, error) {
	var (
		fields manifest.Fields
		err    error
	)
	switch {
	case in.Fields != nil:
		fields, err = manifest.FieldsFromMap(in.Fields)
	case in.Raw != "":
		fields, err = manifest.Parse(in.Raw)
	default:
		return nil, registry.Invalid("parse manifest", "manifest is required")
	}
	if err != nil {
		return nil, parseFailure("parse manifest", "manifest", err)
	}
	return manifest.DecodeDescription(fields)
}

// VersionIngestor creates package versions from manifests
type VersionIngestor struct {
	tx     *store.Manager
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewVersionIngestor creates a version ingestor. A nil logger or tracer
// disables logging or tracing.
func NewVersionIngestor(tx *store.Manager, logger *zap.Logger, tracer trace.Tracer) *VersionIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionIngestor{
		tx:     tx,
		logger: logger,
		tracer: telemetry.OrNoop(tracer),
		now:    store.Now,
	}
}

// Create validates the manifest and persists the version with its package,
// maintainer, authors and dependencies in one transaction. It fails with a
// validation error for a malformed manifest and a conflict error when the
// (package name, version) pair already exists.
func (v *VersionIngestor) Create(ctx context.Context, in ManifestInput) (created *registry.PackageVersion, err error) {
	ctx, span := v.tracer.Start(ctx, "ingest.version")
	defer func() {
		telemetry.End(span, err, attribute.String(telemetry.AttrErrorKind, errorKind(err)))
	}()

	desc, err := in.decode()
	if err != nil {
		v.logger.Debug("rejected manifest", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrPackageName, desc.PackageName),
		attribute.String(telemetry.AttrPackageVersion, desc.Version),
	)

	start := time.Now()
	err = v.tx.WithRetry(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = v.insert(ctx, tx, desc)
		return err
	})
	if err != nil {
		err = classify("create version", err, map[string]string{
			"package_name": desc.PackageName,
			"version":      desc.Version,
		})
		logFailure(v.logger, "version ingestion failed", err,
			zap.String("package", desc.PackageName), zap.String("version", desc.Version))
		return nil, err
	}

	v.logger.Info("ingested version",
		zap.String("package", created.PackageName),
		zap.String("version", created.Version),
		zap.String("id", created.ID),
		zap.Duration("took", time.Since(start)))
	return created, nil
}

func (v *VersionIngestor) insert(ctx context.Context, tx *sql.Tx, desc *manifest.Description) (*registry.PackageVersion, error) {
	r := NewResolver(tx)

	pkg, err := r.Package(ctx, desc.PackageName)
	if err != nil {
		return nil, err
	}
	maintainer, err := r.Collaborator(ctx, desc.Maintainer)
	if err != nil {
		return nil, err
	}
	authors, err := r.Collaborators(ctx, desc.Authors)
	if err != nil {
		return nil, err
	}

	release := v.now()
	if desc.Date != nil {
		release = *desc.Date
	}

	pv := &registry.PackageVersion{
		PackageID:    pkg.ID,
		PackageName:  pkg.Name,
		Version:      desc.Version,
		Title:        desc.Title,
		Description:  desc.Description,
		ReleaseDate:  release,
		License:      desc.License,
		URL:          desc.URL,
		Copyright:    desc.Copyright,
		Author:       desc.Author,
		MaintainerID: maintainer.ID,
		Maintainer:   maintainer,
		Authors:      authors,
		Depends:      manifest.RequirementNames(desc.Depends),
		Imports:      manifest.RequirementNames(desc.Imports),
		Suggests:     manifest.RequirementNames(desc.Suggests),
		Enhances:     manifest.RequirementNames(desc.Enhances),
		Dependencies: []registry.Dependency{},
	}

	for _, kind := range registry.DependencyKinds {
		for _, req := range desc.Requirements(kind) {
			dep, err := r.Package(ctx, req.Name)
			if err != nil {
				return nil, err
			}
			pv.Dependencies = append(pv.Dependencies, registry.Dependency{
				PackageID:  dep.ID,
				Name:       dep.Name,
				Kind:       kind,
				Constraint: req.Constraint,
			})
		}
	}

	if err := store.InsertVersion(ctx, tx, pv); err != nil {
		return nil, err
	}
	for i, a := range authors {
		if err := store.InsertVersionAuthor(ctx, tx, pv.ID, a.ID, i); err != nil {
			return nil, err
		}
	}
	ordinals := make(map[registry.DependencyKind]int, len(registry.DependencyKinds))
	for _, dep := range pv.Dependencies {
		if err := store.InsertVersionDependency(ctx, tx, pv.ID, dep, ordinals[dep.Kind]); err != nil {
			return nil, err
		}
		ordinals[dep.Kind]++
	}
	return pv, nil
}

// classify maps a failure surfaced at the transaction boundary to a
// registry error. Errors that are already classified pass through.
func classify(op string, err error, identity map[string]string) error {
	var regErr *registry.Error
	switch {
	case errors.As(err, &regErr):
		return regErr
	case store.IsUniqueViolation(err):
		return registry.Conflict(op, identity, err)
	case store.IsConstraintViolation(err):
		e := registry.Invalid(op, "record violates a data constraint")
		e.Err = err
		return e
	default:
		return registry.Internal(op, err)
	}
}

func parseFailure(op, field string, err error) error {
	var perr *manifest.ParseError
	if !errors.As(err, &perr) {
		return registry.Internal(op, err)
	}
	e := registry.Validation(op, registry.FieldError{Field: field, Message: perr.Error()})
	e.Err = perr
	return e
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	return registry.KindOf(err).String()
}

func logFailure(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err), zap.String("kind", errorKind(err)))
	if registry.KindOf(err) == registry.KindInternal {
		logger.Error(msg, fields...)
		return
	}
	logger.Info(msg, fields...)
}
