package ingest

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/manifest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/store"
	"github.com/pkgindex/registry/internal/telemetry"
)

// TopicInput is a topic submission: raw Rd source or already decoded
// fields. Doc wins when both are set.
type TopicInput struct {
	Rd  string
	Doc *manifest.TopicDoc
}

func (in TopicInput) decode() (*manifest.TopicDoc, error) {
	doc := in.Doc
	switch {
	case doc != nil:
	case in.Rd != "":
		parsed, err := manifest.ParseRd(in.Rd)
		if err != nil {
			return nil, parseFailure("parse topic", "rd", err)
		}
		doc = parsed
	default:
		return nil, registry.Invalid("parse topic", "topic is required")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// TopicIngestor attaches documentation topics to existing package versions
type TopicIngestor struct {
	tx     *store.Manager
	logger *zap.Logger
	tracer trace.Tracer
}

// NewTopicIngestor creates a topic ingestor. A nil logger or tracer
// disables logging or tracing.
func NewTopicIngestor(tx *store.Manager, logger *zap.Logger, tracer trace.Tracer) *TopicIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopicIngestor{
		tx:     tx,
		logger: logger,
		tracer: telemetry.OrNoop(tracer),
	}
}

// Create persists a topic for the version (packageName, version). It fails
// with a not-found error when the version does not exist and a conflict
// error when the version already has a topic with the same name.
func (t *TopicIngestor) Create(ctx context.Context, in TopicInput, packageName, version string) (created *registry.Topic, err error) {
	ctx, span := t.tracer.Start(ctx, "ingest.topic", trace.WithAttributes(
		attribute.String(telemetry.AttrPackageName, packageName),
		attribute.String(telemetry.AttrPackageVersion, version),
	))
	defer func() {
		telemetry.End(span, err, attribute.String(telemetry.AttrErrorKind, errorKind(err)))
	}()

	doc, err := in.decode()
	if err != nil {
		t.logger.Debug("rejected topic", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrTopicName, doc.Name))

	identity := map[string]string{"package_name": packageName, "version": version}
	start := time.Now()
	err = t.tx.WithRetry(ctx, func(tx *sql.Tx) error {
		versionID, err := store.FindVersionID(ctx, tx, packageName, version)
		if store.IsNotFound(err) {
			return registry.NotFound("create topic", identity)
		}
		if err != nil {
			return err
		}

		topic := &registry.Topic{
			PackageVersionID: versionID,
			Name:             doc.Name,
			Title:            doc.Title,
			Description:      doc.Description,
			Usage:            doc.Usage,
			Details:          doc.Details,
			Value:            doc.Value,
			Note:             doc.Note,
			References:       doc.References,
			SeeAlso:          doc.SeeAlso,
			Examples:         doc.Examples,
			Author:           doc.Author,
			Aliases:          doc.Aliases,
			Keywords:         doc.Keywords,
			Arguments:        doc.Arguments,
		}
		if err := store.InsertTopic(ctx, tx, topic); err != nil {
			return err
		}
		created = topic
		return nil
	})
	if err != nil {
		err = classify("create topic", err, map[string]string{
			"package_name": packageName,
			"version":      version,
			"topic":        doc.Name,
		})
		logFailure(t.logger, "topic ingestion failed", err,
			zap.String("package", packageName), zap.String("version", version), zap.String("topic", doc.Name))
		return nil, err
	}

	t.logger.Info("ingested topic",
		zap.String("package", packageName),
		zap.String("version", version),
		zap.String("topic", created.Name),
		zap.Duration("took", time.Since(start)))
	return created, nil
}
