package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkgindex/registry/internal/registry"
)

// InsertUser inserts a user with username, returning its ID. The registry
// never writes users outside seeding and tests.
func InsertUser(ctx context.Context, q Querier, username string) (string, error) {
	id := NewID()
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)`,
		id, username, Now())
	if err != nil {
		return "", ConvertDBError(err)
	}
	return id, nil
}

// InsertReview inserts a review of the version versionID by userID
func InsertReview(ctx context.Context, q Querier, userID, versionID string, rating int, body string) (string, error) {
	id := NewID()
	_, err := q.ExecContext(ctx, `
INSERT INTO reviews (id, user_id, reviewable_id, reviewable, rating, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, versionID, registry.ReviewableVersion, rating, body, Now())
	if err != nil {
		return "", ConvertDBError(err)
	}
	return id, nil
}

// ListReviews returns the reviews of a version, oldest first, with the
// reviewing user's public fields
func ListReviews(ctx context.Context, q Querier, versionID string) ([]registry.Review, error) {
	rows, err := q.QueryContext(ctx, `
SELECT r.id, r.rating, r.body, r.created_at, u.id, u.username
FROM reviews r
JOIN users u ON u.id = r.user_id
WHERE r.reviewable = $1 AND r.reviewable_id = $2
ORDER BY r.created_at, r.id`, registry.ReviewableVersion, versionID)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	reviews := []registry.Review{}
	for rows.Next() {
		var r registry.Review
		if err := rows.Scan(&r.ID, &r.Rating, &r.Body, &r.CreatedAt, &r.User.ID, &r.User.Username); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// AverageRating returns the mean rating of a version's reviews, or nil when
// it has none
func AverageRating(ctx context.Context, q Querier, versionID string) (*float64, error) {
	var avg sql.NullFloat64
	err := q.QueryRowContext(ctx, `
SELECT AVG(CAST(rating AS DOUBLE PRECISION))
FROM reviews
WHERE reviewable = $1 AND reviewable_id = $2
GROUP BY reviewable_id`, registry.ReviewableVersion, versionID,
	).Scan(&avg)
	if err = ConvertDBError(err); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	rating := avg.Float64
	return &rating, nil
}
