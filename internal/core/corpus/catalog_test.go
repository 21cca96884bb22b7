package corpus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type fakeProvider struct {
	calls     atomic.Int32
	materials map[string][]domain.Material
	err       error
	delay     time.Duration
}

func (f *fakeProvider) GetMaterials(_ context.Context, courseID string) ([]domain.Material, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.materials[courseID], nil
}

func courseMaterials() map[string][]domain.Material {
	return map[string][]domain.Material{
		"cs101": {
			{ID: "m1", CourseID: "cs101", Content: "Binary tree traversal visits every node.", Keywords: []string{"Binary Tree", "traversal"}},
			{ID: "m2", CourseID: "cs101", Content: "Insertion into a binary search tree.", Keywords: []string{"insertion"}},
		},
	}
}

func newTestCatalog(p *fakeProvider) *Catalog {
	return NewCatalog(p, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestBuildSnapshot(t *testing.T) {
	snap := Build("cs101", courseMaterials()["cs101"], time.Unix(0, 0))

	assert.Equal(t, 2, snap.Stats.DocumentCount)
	assert.Equal(t, 2, snap.Stats.DF("binary"))
	assert.Equal(t, 1, snap.Stats.DF("traversal"))
	assert.Equal(t, 0, snap.Stats.DF("a"))
	assert.Contains(t, snap.Keywords, "binary tree")
	assert.Contains(t, snap.Keywords, "binary")
	assert.Contains(t, snap.Keywords, "tree")
	assert.Contains(t, snap.Keywords, "insertion")
	require.Len(t, snap.Documents, 2)
	assert.Equal(t, []string{"binary", "tree", "traversal", "visits", "every", "node"}, snap.Documents[0].Tokens)
	assert.InDelta(t, 5.0, snap.AvgDocLength, 1e-9)
}

func TestSnapshotIsMemoized(t *testing.T) {
	p := &fakeProvider{materials: courseMaterials()}
	c := newTestCatalog(p)

	a, err := c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	b, err := c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), p.calls.Load())

	c.Invalidate("cs101")
	_, err = c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestSnapshotCollapsesConcurrentLoads(t *testing.T) {
	p := &fakeProvider{materials: courseMaterials(), delay: 30 * time.Millisecond}
	c := newTestCatalog(p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Snapshot(context.Background(), "cs101")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestSnapshotProviderFailure(t *testing.T) {
	c := newTestCatalog(&fakeProvider{err: errors.New("db down")})

	_, err := c.Snapshot(context.Background(), "cs101")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTemporary)
}

func TestInvalidateDropsGeneralScope(t *testing.T) {
	p := &fakeProvider{materials: courseMaterials()}
	c := newTestCatalog(p)

	_, err := c.Snapshot(context.Background(), "")
	require.NoError(t, err)
	c.Invalidate("cs101")
	_, err = c.Snapshot(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

// gatedProvider blocks its first load until release is closed and serves
// whatever materials are current when each load finishes.
type gatedProvider struct {
	mu        sync.Mutex
	calls     int
	materials []domain.Material
	started   chan struct{}
	release   chan struct{}
}

func (g *gatedProvider) GetMaterials(context.Context, string) ([]domain.Material, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.started)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.materials, nil
}

func (g *gatedProvider) set(materials []domain.Material) {
	g.mu.Lock()
	g.materials = materials
	g.mu.Unlock()
}

func TestInvalidateDuringLoadDiscardsStaleSnapshot(t *testing.T) {
	p := &gatedProvider{
		materials: []domain.Material{{ID: "old", CourseID: "cs101", Content: "Stack push pop."}},
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := NewCatalog(p, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	done := make(chan *Snapshot, 1)
	go func() {
		snap, err := c.Snapshot(context.Background(), "cs101")
		assert.NoError(t, err)
		done <- snap
	}()

	<-p.started
	c.Invalidate("cs101")
	p.set([]domain.Material{{ID: "new", CourseID: "cs101", Content: "Queue enqueue dequeue."}})
	close(p.release)
	<-done

	snap, err := c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "new", snap.Documents[0].ID)
}

func TestFullInvalidateDuringLoadDiscardsStaleSnapshot(t *testing.T) {
	p := &gatedProvider{
		materials: []domain.Material{{ID: "old", Content: "Stack push pop."}},
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := NewCatalog(p, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Snapshot(context.Background(), "")
		assert.NoError(t, err)
	}()

	<-p.started
	c.Invalidate("")
	p.set([]domain.Material{{ID: "new", Content: "Queue enqueue dequeue."}})
	close(p.release)
	<-done

	snap, err := c.Snapshot(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "new", snap.Documents[0].ID)
}

func TestSnapshotRebuildsAfterTTL(t *testing.T) {
	p := &fakeProvider{materials: courseMaterials()}
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c := NewCatalog(p, Options{
		TTL:    time.Minute,
		Clock:  func() time.Time { return now },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	now = now.Add(time.Minute)
	_, err = c.Snapshot(context.Background(), "cs101")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}
