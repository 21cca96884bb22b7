package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type MaterialRepository struct {
	db *sql.DB
}

func NewMaterialRepository(db *sql.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// GetMaterials returns the materials of courseID, or of every course when
// courseID is empty.
func (r *MaterialRepository) GetMaterials(ctx context.Context, courseID string) ([]domain.Material, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, course_id, content, keywords
FROM course_materials
WHERE $1 = '' OR course_id = $1
ORDER BY course_id, id
`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Material, 0)
	for rows.Next() {
		var m domain.Material
		var keywordsRaw []byte
		if err := rows.Scan(&m.ID, &m.CourseID, &m.Content, &keywordsRaw); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		if len(keywordsRaw) > 0 {
			if err := json.Unmarshal(keywordsRaw, &m.Keywords); err != nil {
				return nil, fmt.Errorf("unmarshal keywords for %s: %w", m.ID, err)
			}
		}
		if m.Keywords == nil {
			m.Keywords = []string{}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate materials: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a material.
func (r *MaterialRepository) Upsert(ctx context.Context, m domain.Material) error {
	if m.ID == "" || m.CourseID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert material", fmt.Errorf("id and course_id are required"))
	}
	keywords := m.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO course_materials (id, course_id, content, keywords, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE
SET course_id = EXCLUDED.course_id, content = EXCLUDED.content, keywords = EXCLUDED.keywords, updated_at = now()
`, m.ID, m.CourseID, m.Content, keywordsJSON)
	if err != nil {
		return fmt.Errorf("upsert material: %w", err)
	}
	return nil
}
