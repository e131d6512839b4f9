package store

import (
	"context"
	"fmt"

	"github.com/pkgindex/registry/internal/registry"
)

// InsertTopic inserts t, assigning ID and timestamps when unset
func InsertTopic(ctx context.Context, q Querier, t *registry.Topic) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	aliases, err := encodeList(t.Aliases)
	if err != nil {
		return err
	}
	keywords, err := encodeList(t.Keywords)
	if err != nil {
		return err
	}
	arguments, err := encodeList(t.Arguments)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
INSERT INTO topics (
	id, package_version_id, name, title, description, usage, details,
	value_text, note, references_text, seealso, examples, author,
	aliases, keywords, arguments, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.PackageVersionID, t.Name, t.Title, t.Description, t.Usage, t.Details,
		t.Value, t.Note, t.References, t.SeeAlso, t.Examples, t.Author,
		aliases, keywords, arguments, t.CreatedAt, t.UpdatedAt)
	return ConvertDBError(err)
}

// FindTopic returns the topic name of a version or ErrNotFound
func FindTopic(ctx context.Context, q Querier, versionID, name string) (*registry.Topic, error) {
	t := &registry.Topic{}
	var aliases, keywords, arguments string
	err := q.QueryRowContext(ctx, `
SELECT id, package_version_id, name, title, description, usage, details,
	value_text, note, references_text, seealso, examples, author,
	aliases, keywords, arguments, created_at, updated_at
FROM topics
WHERE package_version_id = $1 AND name = $2`, versionID, name,
	).Scan(&t.ID, &t.PackageVersionID, &t.Name, &t.Title, &t.Description, &t.Usage, &t.Details,
		&t.Value, &t.Note, &t.References, &t.SeeAlso, &t.Examples, &t.Author,
		&aliases, &keywords, &arguments, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, ConvertDBError(err)
	}

	if t.Aliases, err = decodeList[string](aliases); err != nil {
		return nil, fmt.Errorf("topic %s: %w", t.ID, err)
	}
	if t.Keywords, err = decodeList[string](keywords); err != nil {
		return nil, fmt.Errorf("topic %s: %w", t.ID, err)
	}
	if t.Arguments, err = decodeList[registry.Argument](arguments); err != nil {
		return nil, fmt.Errorf("topic %s: %w", t.ID, err)
	}
	return t, nil
}

// ListTopics returns up to limit topic summaries of a version ordered by name
func ListTopics(ctx context.Context, q Querier, versionID string, limit int) ([]registry.TopicSummary, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, name, title, description
FROM topics
WHERE package_version_id = $1
ORDER BY name
LIMIT $2`, versionID, limit)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	topics := []registry.TopicSummary{}
	for rows.Next() {
		var t registry.TopicSummary
		if err := rows.Scan(&t.ID, &t.Name, &t.Title, &t.Description); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
