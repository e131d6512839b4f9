package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/manifest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/telemetry"
)

// Request type tags
const (
	TypeVersion = "version"
	TypeTopic   = "topic"
)

// Request is an ingestion request of a known type: *VersionRequest or
// *TopicRequest
type Request interface {
	Type() string
	isRequest()
}

// VersionRequest asks for a package version to be created
type VersionRequest struct {
	Input ManifestInput
}

// Type returns TypeVersion
func (*VersionRequest) Type() string { return TypeVersion }
func (*VersionRequest) isRequest()   {}

// TopicRequest asks for a topic to be attached to an existing version
type TopicRequest struct {
	PackageName string
	Version     string
	Input       TopicInput
}

// Type returns TypeTopic
func (*TopicRequest) Type() string { return TypeTopic }
func (*TopicRequest) isRequest()   {}

// Result holds the record created by a dispatched request. Exactly one of
// Version and Topic is set.
type Result struct {
	Type    string
	Version *registry.PackageVersion
	Topic   *registry.Topic
}

// Value returns the created record
func (r *Result) Value() any {
	if r.Version != nil {
		return r.Version
	}
	return r.Topic
}

// VersionCreator creates package versions
type VersionCreator interface {
	Create(ctx context.Context, in ManifestInput) (*registry.PackageVersion, error)
}

// TopicCreator creates topics
type TopicCreator interface {
	Create(ctx context.Context, in TopicInput, packageName, version string) (*registry.Topic, error)
}

// Dispatcher routes typed ingestion requests to the matching ingestor. The
// HTTP endpoints and the queue worker both go through it so a request
// persists the same way whichever path delivered it.
type Dispatcher struct {
	versions VersionCreator
	topics   TopicCreator
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher
func NewDispatcher(versions VersionCreator, topics TopicCreator, logger *zap.Logger, tracer trace.Tracer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		versions: versions,
		topics:   topics,
		logger:   logger,
		tracer:   telemetry.OrNoop(tracer),
	}
}

// topicPayload is the wire shape of a topic delivery
type topicPayload struct {
	Package struct {
		Package string `json:"package"`
		Version string `json:"version"`
	} `json:"package"`
	Rd string `json:"rd"`
	manifest.TopicDoc
}

// Decode builds a request from a type tag and a JSON payload. A version
// payload is an object of manifest fields or a JSON string holding raw
// manifest text. A topic payload names its version under "package" and
// carries either topic fields or raw Rd source under "rd". An unknown tag
// fails with a validation error.
func Decode(typeTag string, payload []byte) (Request, error) {
	switch typeTag {
	case TypeVersion:
		return decodeVersion(payload)
	case TypeTopic:
		return decodeTopic(payload)
	default:
		return nil, registry.Invalid("dispatch", "Invalid type")
	}
}

func decodeVersion(payload []byte) (Request, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, malformedPayload(err)
		}
		return &VersionRequest{Input: ManifestInput{Raw: raw}}, nil
	}

	// Numbers stay json.Number so a version like 1.10 keeps its digits
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, malformedPayload(err)
	}
	if dec.More() {
		return nil, malformedPayload(errors.New("unexpected data after manifest object"))
	}
	if fields == nil {
		return nil, registry.Invalid("decode payload", "manifest is required")
	}
	return &VersionRequest{Input: ManifestInput{Fields: fields}}, nil
}

func decodeTopic(payload []byte) (Request, error) {
	var p topicPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, malformedPayload(err)
	}

	var errs []registry.FieldError
	if p.Package.Package == "" {
		errs = append(errs, registry.FieldError{Field: "package.package", Message: "is required"})
	}
	if p.Package.Version == "" {
		errs = append(errs, registry.FieldError{Field: "package.version", Message: "is required"})
	}
	if len(errs) > 0 {
		return nil, registry.Validation("decode payload", errs...)
	}

	req := &TopicRequest{PackageName: p.Package.Package, Version: p.Package.Version}
	if p.Rd != "" {
		req.Input.Rd = p.Rd
	} else {
		doc := p.TopicDoc
		req.Input.Doc = &doc
	}
	return req, nil
}

func malformedPayload(err error) error {
	e := registry.Invalid("decode payload", fmt.Sprintf("malformed JSON payload: %v", err))
	e.Err = err
	return e
}

// Dispatch runs req through its ingestor
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := d.tracer.Start(ctx, "ingest.dispatch",
		trace.WithAttributes(attribute.String(telemetry.AttrRequestType, req.Type())))
	defer func() {
		telemetry.End(span, err, attribute.String(telemetry.AttrErrorKind, errorKind(err)))
	}()

	switch r := req.(type) {
	case *VersionRequest:
		v, err := d.versions.Create(ctx, r.Input)
		if err != nil {
			return nil, err
		}
		return &Result{Type: TypeVersion, Version: v}, nil
	case *TopicRequest:
		t, err := d.topics.Create(ctx, r.Input, r.PackageName, r.Version)
		if err != nil {
			return nil, err
		}
		return &Result{Type: TypeTopic, Topic: t}, nil
	default:
		return nil, registry.Invalid("dispatch", "Invalid type")
	}
}

// DispatchRaw decodes and dispatches a tagged payload
func (d *Dispatcher) DispatchRaw(ctx context.Context, typeTag string, payload []byte) (*Result, error) {
	req, err := Decode(typeTag, payload)
	if err != nil {
		d.logger.Debug("rejected delivery", zap.String("type", typeTag), zap.Error(err))
		return nil, err
	}
	return d.Dispatch(ctx, req)
}
