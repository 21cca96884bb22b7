package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type QueryHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueryHistoryRepository(db *sql.DB) *QueryHistoryRepository {
	return &QueryHistoryRepository{db: db, now: time.Now}
}

// ListRecent returns the newest queries of a user, restricted to courseID
// when it is set.
func (r *QueryHistoryRepository) ListRecent(ctx context.Context, userID, courseID string, limit int) ([]domain.HistoricalQuery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, course_id, query, avg_relevance, result_count, successful, created_at
FROM query_history
WHERE user_id = $1 AND ($2 = '' OR course_id = $2)
ORDER BY created_at DESC
LIMIT $3
`, userID, courseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.HistoricalQuery, 0, limit)
	for rows.Next() {
		var q domain.HistoricalQuery
		if err := rows.Scan(&q.ID, &q.UserID, &q.CourseID, &q.Query, &q.AvgRelevance, &q.ResultCount, &q.Successful, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return out, nil
}

func (r *QueryHistoryRepository) Record(ctx context.Context, q domain.HistoricalQuery) error {
	if q.UserID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record query", fmt.Errorf("user_id is required"))
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_history (id, user_id, course_id, query, avg_relevance, result_count, successful, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, q.ID, q.UserID, q.CourseID, q.Query, q.AvgRelevance, q.ResultCount, q.Successful, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}
