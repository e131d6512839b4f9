// Package reader assembles the retrieval document of a package version.
package reader

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/store"
	"github.com/pkgindex/registry/internal/telemetry"
)

// DefaultPopulateLimit caps the sibling versions and topics embedded in a document
const DefaultPopulateLimit = 30

// Config configures a Reader
type Config struct {
	// APIPrefix is prepended to every URI in the document
	APIPrefix string
	// PopulateLimit caps sibling versions and topics
	PopulateLimit int
}

// Reader loads enriched package versions. Reads are not transactional: the
// rating is computed by a separate query after the relations are loaded and
// may or may not include a review written in between.
type Reader struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a reader. A nil logger or tracer disables logging or tracing.
func New(db *sql.DB, cfg Config, logger *zap.Logger, tracer trace.Tracer) *Reader {
	if cfg.PopulateLimit <= 0 {
		cfg.PopulateLimit = DefaultPopulateLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{db: db, cfg: cfg, logger: logger, tracer: telemetry.OrNoop(tracer)}
}

// FindByNameVersion returns the enriched version identified by (name,
// version). The boolean is false when no such version exists; that is not
// an error and no rating is computed.
func (r *Reader) FindByNameVersion(ctx context.Context, name, version string) (doc *registry.EnrichedVersion, found bool, err error) {
	ctx, span := r.tracer.Start(ctx, "reader.find", trace.WithAttributes(
		attribute.String(telemetry.AttrPackageName, name),
		attribute.String(telemetry.AttrPackageVersion, version),
	))
	defer func() {
		telemetry.End(span, err, attribute.Bool("registry.found", found))
	}()

	start := time.Now()
	v, err := store.FindVersion(ctx, r.db, name, version)
	if store.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, registry.Internal("find version", err)
	}

	doc = r.document(v)
	if err := r.loadRelations(ctx, v, doc); err != nil {
		return nil, false, registry.Internal("find version", err)
	}

	rating, err := store.AverageRating(ctx, r.db, v.ID)
	if err != nil {
		return nil, false, registry.Internal("find version", err)
	}
	doc.Rating = rating

	r.logger.Debug("loaded version",
		zap.String("package", name),
		zap.String("version", version),
		zap.Int("topics", len(doc.Topics)),
		zap.Int("reviews", len(doc.Reviews)),
		zap.Duration("took", time.Since(start)))
	return doc, true, nil
}

func (r *Reader) document(v *registry.PackageVersion) *registry.EnrichedVersion {
	prefix := r.cfg.APIPrefix
	doc := &registry.EnrichedVersion{
		URI:          registry.VersionURI(prefix, v.PackageName, v.Version),
		PackageURI:   registry.PackageURI(prefix, v.PackageName),
		ID:           v.ID,
		PackageName:  v.PackageName,
		Version:      v.Version,
		Title:        v.Title,
		Description:  v.Description,
		ReleaseDate:  v.ReleaseDate,
		License:      v.License,
		URL:          v.URL,
		Copyright:    v.Copyright,
		MaintainerID: v.MaintainerID,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		Package: registry.PackageSummary{
			Name: v.PackageName,
			URI:  registry.PackageURI(prefix, v.PackageName),
		},
	}
	if v.Maintainer != nil {
		doc.Maintainer = registry.Collaborator{Name: v.Maintainer.Name, Email: v.Maintainer.Email}
	}
	return doc
}

// loadRelations loads the relations of v concurrently into doc
func (r *Reader) loadRelations(ctx context.Context, v *registry.PackageVersion, doc *registry.EnrichedVersion) error {
	prefix := r.cfg.APIPrefix
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		authors, err := store.ListVersionAuthors(ctx, r.db, v.ID)
		if err != nil {
			return err
		}
		doc.Authors = make([]registry.Collaborator, len(authors))
		for i, a := range authors {
			doc.Authors[i] = registry.Collaborator{Name: a.Name, Email: a.Email}
		}
		return nil
	})

	g.Go(func() error {
		deps, err := store.ListVersionDependencies(ctx, r.db, v.ID)
		if err != nil {
			return err
		}
		doc.Dependencies = make([]registry.DependencyRef, len(deps))
		for i, d := range deps {
			doc.Dependencies[i] = registry.DependencyRef{
				Name:       d.Name,
				Kind:       d.Kind,
				Constraint: d.Constraint,
				URI:        registry.PackageURI(prefix, d.Name),
			}
		}
		return nil
	})

	g.Go(func() error {
		siblings, err := store.ListPackageVersions(ctx, r.db, v.PackageID, r.cfg.PopulateLimit)
		if err != nil {
			return err
		}
		for i := range siblings {
			siblings[i].URI = registry.VersionURI(prefix, v.PackageName, siblings[i].Version)
		}
		doc.Package.Versions = siblings
		return nil
	})

	g.Go(func() error {
		topics, err := store.ListTopics(ctx, r.db, v.ID, r.cfg.PopulateLimit)
		if err != nil {
			return err
		}
		ref := registry.VersionRef{PackageName: v.PackageName, Version: v.Version, URI: doc.URI}
		for i := range topics {
			topics[i].PackageVersion = ref
		}
		doc.Topics = topics
		return nil
	})

	g.Go(func() error {
		reviews, err := store.ListReviews(ctx, r.db, v.ID)
		if err != nil {
			return err
		}
		doc.Reviews = reviews
		return nil
	})

	return g.Wait()
}
