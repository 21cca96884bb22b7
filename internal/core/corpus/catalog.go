package corpus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

// Document is a material with its content tokens precomputed.
type Document struct {
	ID       string
	Content  string
	Tokens   []string
	TermFreq map[string]int
}

// Snapshot is an immutable view of one scope's materials. It is rebuilt on
// reindex and never mutated afterwards.
type Snapshot struct {
	Scope        string
	Documents    []Document
	Keywords     map[string]struct{}
	Stats        domain.CorpusStats
	AvgDocLength float64
	BuiltAt      time.Time
}

type Options struct {
	// TTL bounds snapshot age when a reindex notification is missed. Zero
	// keeps snapshots until invalidated.
	TTL    time.Duration
	Clock  func() time.Time
	Logger *slog.Logger
}

// Catalog lazily loads and memoizes per-course snapshots. Concurrent loads
// of the same scope share one provider call.
type Catalog struct {
	provider  ports.MaterialProvider
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	// A load stores its snapshot only if no Invalidate touched its scope
	// while it ran. epoch covers full invalidations, gens single scopes.
	epoch     uint64
	gens      map[string]uint64
	group     singleflight.Group
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewCatalog(provider ports.MaterialProvider, opts Options) *Catalog {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		provider:  provider,
		snapshots: make(map[string]*Snapshot),
		gens:      make(map[string]uint64),
		ttl:       opts.TTL,
		now:       now,
		logger:    logger,
	}
}

func (c *Catalog) Snapshot(ctx context.Context, courseID string) (*Snapshot, error) {
	scope := domain.SearchFilter{CourseID: courseID}.Scope()

	c.mu.RLock()
	snap, ok := c.snapshots[scope]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || c.now().Sub(snap.BuiltAt) < c.ttl) {
		return snap, nil
	}

	v, err, _ := c.group.Do(scope, func() (any, error) {
		c.mu.RLock()
		gen := c.generation(scope)
		c.mu.RUnlock()

		materials, err := c.provider.GetMaterials(ctx, courseID)
		if err != nil {
			return nil, err
		}
		built := Build(scope, materials, c.now())

		c.mu.Lock()
		current := c.generation(scope) == gen
		if current {
			c.snapshots[scope] = built
		}
		c.mu.Unlock()

		if !current {
			c.logger.Info("corpus_snapshot_discarded", "scope", scope, "reason", "invalidated during load")
			return built, nil
		}
		c.logger.Info("corpus_snapshot_built",
			"scope", scope,
			"documents", len(built.Documents),
			"keywords", len(built.Keywords),
		)
		return built, nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "load corpus snapshot", err)
	}
	return v.(*Snapshot), nil
}

// Keywords returns the keyword set of a course snapshot.
func (c *Catalog) Keywords(ctx context.Context, courseID string) (map[string]struct{}, error) {
	snap, err := c.Snapshot(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return snap.Keywords, nil
}

// Invalidate drops the snapshot of courseID along with the general scope,
// which aggregates every course. An empty course id drops everything.
// Loads already in flight for those scopes are not stored.
func (c *Catalog) Invalidate(courseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(courseID) == "" {
		c.epoch++
		for scope := range c.snapshots {
			c.group.Forget(scope)
		}
		for scope := range c.gens {
			c.group.Forget(scope)
		}
		c.snapshots = make(map[string]*Snapshot)
		return
	}
	for _, scope := range []string{courseID, domain.GeneralScope} {
		c.gens[scope]++
		delete(c.snapshots, scope)
		c.group.Forget(scope)
	}
}

// generation must be called with mu held.
func (c *Catalog) generation(scope string) uint64 {
	return c.epoch + c.gens[scope]
}

// Build tokenizes materials and derives keyword and document-frequency
// statistics for them.
func Build(scope string, materials []domain.Material, builtAt time.Time) *Snapshot {
	snap := &Snapshot{
		Scope:     scope,
		Documents: make([]Document, 0, len(materials)),
		Keywords:  make(map[string]struct{}, len(materials)*4),
		Stats: domain.CorpusStats{
			DocumentFrequency: make(map[string]int, len(materials)*32),
		},
		BuiltAt: builtAt,
	}

	totalLen := 0
	for _, m := range materials {
		tokens := textproc.ContentTokens(m.Content)
		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		for token := range tf {
			snap.Stats.DocumentFrequency[token]++
		}
		for _, kw := range m.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			snap.Keywords[kw] = struct{}{}
			for _, part := range textproc.ContentTokens(kw) {
				snap.Keywords[part] = struct{}{}
			}
		}
		totalLen += len(tokens)
		snap.Documents = append(snap.Documents, Document{
			ID:       m.ID,
			Content:  m.Content,
			Tokens:   tokens,
			TermFreq: tf,
		})
	}
	snap.Stats.DocumentCount = len(snap.Documents)
	if len(snap.Documents) > 0 {
		snap.AvgDocLength = float64(totalLen) / float64(len(snap.Documents))
	}
	return snap
}
