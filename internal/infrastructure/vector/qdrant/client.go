package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/resilience"
)

// pointNamespace derives stable point ids from material ids so reindexing
// overwrites instead of duplicating.
var pointNamespace = uuid.MustParse("6f1c2a7e-4b1d-4a53-9d0e-3c2f8b7a9e10")

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(baseURL, collection string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}

// IndexMaterials upserts one point per material.
func (c *Client) IndexMaterials(ctx context.Context, materials []domain.Material, vectors [][]float32) error {
	if len(materials) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(materials) != len(vectors) {
		return fmt.Errorf("materials/vectors mismatch: %d != %d", len(materials), len(vectors))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(materials))
	for i, m := range materials {
		points = append(points, point{
			ID:     uuid.NewSHA1(pointNamespace, []byte(m.ID)).String(),
			Vector: vectors[i],
			Payload: map[string]any{
				"material_id": m.ID,
				"course_id":   m.CourseID,
				"keywords":    m.Keywords,
				"text":        m.Content,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.call(ctx, "upsert", http.MethodPut, url, map[string]any{"points": points}, nil)
}

// Search returns raw cosine scores; callers clamp them.
func (c *Client) Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievalResult, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter.CourseID != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "course_id",
					"match": map[string]any{
						"value": filter.CourseID,
					},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.call(ctx, "search", http.MethodPost, url, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievalResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "material_id")
		if id == "" {
			continue
		}
		out = append(out, domain.RetrievalResult{
			DocumentID: id,
			Score:      r.Score,
			Source:     domain.SourceSemantic,
			Content:    getStringPayload(r.Payload, "text"),
		})
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.call(ctx, "ensure_collection", http.MethodPut, url, reqBody, nil)
	// 409 means the collection already exists.
	var statusErr *resilience.HTTPStatusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict) {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) call(ctx context.Context, operation, method, url string, body, out any) error {
	return resilience.DoJSON(ctx, c.httpClient, c.executor, resilience.JSONCall{
		Service:   "qdrant",
		Operation: operation,
		Method:    method,
		URL:       url,
		Body:      body,
		Out:       out,
	})
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
