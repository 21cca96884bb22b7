package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
)

const defaultEmbedBatch = 32

// ReindexUseCase pushes stored materials into the vector index and tells
// running instances to drop what they derived from the old corpus.
type ReindexUseCase struct {
	materials ports.MaterialProvider
	embedder  ports.BatchEmbedder
	index     ports.MaterialIndexer
	events    ports.CorpusEventPublisher
	batchSize int
	logger    *slog.Logger
}

func NewReindexUseCase(
	materials ports.MaterialProvider,
	embedder ports.BatchEmbedder,
	index ports.MaterialIndexer,
	events ports.CorpusEventPublisher,
	logger *slog.Logger,
) *ReindexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReindexUseCase{
		materials: materials,
		embedder:  embedder,
		index:     index,
		events:    events,
		batchSize: defaultEmbedBatch,
		logger:    logger,
	}
}

// Reindex returns the number of indexed materials. An empty course id
// reindexes everything.
func (uc *ReindexUseCase) Reindex(ctx context.Context, courseID string) (int, error) {
	courseID = strings.TrimSpace(courseID)

	materials, err := uc.loadMaterials(ctx, courseID)
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(materials); start += uc.batchSize {
		batch := materials[start:min(start+uc.batchSize, len(materials))]
		vectors, err := uc.embed(ctx, batch)
		if err != nil {
			return start, err
		}
		if err := uc.index.IndexMaterials(ctx, batch, vectors); err != nil {
			return start, fmt.Errorf("index materials in vector db: %w", err)
		}
	}

	if uc.events != nil {
		if err := uc.events.PublishCorpusReindexed(ctx, courseID); err != nil {
			return len(materials), fmt.Errorf("publish reindex event: %w", err)
		}
	}
	uc.logger.Info("corpus_reindexed", "course_id", courseID, "materials", len(materials))
	return len(materials), nil
}

func (uc *ReindexUseCase) loadMaterials(ctx context.Context, courseID string) ([]domain.Material, error) {
	all, err := uc.materials.GetMaterials(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load materials: %w", err)
	}
	out := make([]domain.Material, 0, len(all))
	for _, m := range all {
		if strings.TrimSpace(m.Content) == "" {
			uc.logger.Warn("material_skipped", "material_id", m.ID, "reason", "empty content")
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "load materials", fmt.Errorf("no materials for scope %q", courseID))
	}
	return out, nil
}

func (uc *ReindexUseCase) embed(ctx context.Context, batch []domain.Material) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = m.Content
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed materials: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed materials",
			fmt.Errorf("vectors/materials mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	return vectors, nil
}

type SnapshotInvalidator interface {
	Invalidate(courseID string)
}

type ScopeInvalidator interface {
	InvalidateScope(courseID string) int
	ClearCache()
}

type ExpansionPurger interface {
	Purge()
}

// CorpusInvalidation drops every derived view of a course after its
// materials changed.
type CorpusInvalidation struct {
	snapshots SnapshotInvalidator
	results   ScopeInvalidator
	expansion ExpansionPurger
	onHandled func(error)
	logger    *slog.Logger
}

func NewCorpusInvalidation(snapshots SnapshotInvalidator, results ScopeInvalidator, expansion ExpansionPurger, onHandled func(error), logger *slog.Logger) *CorpusInvalidation {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorpusInvalidation{
		snapshots: snapshots,
		results:   results,
		expansion: expansion,
		onHandled: onHandled,
		logger:    logger,
	}
}

// HandleReindexed matches the corpus event handler signature. An empty
// course id invalidates every scope.
func (c *CorpusInvalidation) HandleReindexed(ctx context.Context, courseID string) error {
	err := ctx.Err()
	if err == nil {
		err = c.invalidate(strings.TrimSpace(courseID))
	}
	if c.onHandled != nil {
		c.onHandled(err)
	}
	return err
}

func (c *CorpusInvalidation) invalidate(courseID string) error {
	if c.snapshots == nil && c.results == nil && c.expansion == nil {
		return errors.New("corpus invalidation has no targets")
	}
	if c.snapshots != nil {
		c.snapshots.Invalidate(courseID)
	}
	if c.results != nil {
		if courseID == "" {
			c.results.ClearCache()
		} else {
			// The general scope aggregates every course.
			c.results.InvalidateScope(courseID)
			c.results.InvalidateScope("")
		}
	}
	if c.expansion != nil {
		c.expansion.Purge()
	}
	c.logger.Info("corpus_invalidated", "course_id", courseID)
	return nil
}
