package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/resilience"
)

const defaultAnswerTemperature = 0.2

// Client talks to one Ollama server. Embedding and generation clients are
// built separately so each can sit behind its own executor.
type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	temperature float64
	keepAlive   string
	httpClient  *http.Client
	executor    *resilience.Executor
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
	// Temperature for answer generation. Zero uses a low default so answers
	// stay close to the supplied material.
	Temperature float64
	// KeepAlive is passed through to Ollama ("5m", "-1"); empty keeps the
	// server default.
	KeepAlive string
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultAnswerTemperature
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		embedModel:  embedModel,
		temperature: temperature,
		keepAlive:   strings.TrimSpace(opts.KeepAlive),
		httpClient:  &http.Client{Timeout: timeout},
		executor:    opts.Executor,
	}
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type generateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Embedder turns material and query text into vectors.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

// Embed returns one vector per input, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	err := e.client.post(ctx, "embed", "/api/embed", embedRequest{
		Model:     e.client.embedModel,
		Input:     texts,
		Truncate:  true,
		KeepAlive: e.client.keepAlive,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty vector")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// GenerateAnswer answers question from the assembled retrieval context only.
func (g *Generator) GenerateAnswer(ctx context.Context, question, contextText string) (string, error) {
	var resp generateResponse
	err := g.client.post(ctx, "generate", "/api/generate", generateRequest{
		Model:     g.client.genModel,
		Prompt:    buildAnswerPrompt(question, contextText),
		KeepAlive: g.client.keepAlive,
		Options:   map[string]any{"temperature": g.client.temperature},
	}, &resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Response), nil
}

func (c *Client) post(ctx context.Context, operation, path string, body, out any) error {
	return resilience.DoJSON(ctx, c.httpClient, c.executor, resilience.JSONCall{
		Service:   "ollama",
		Operation: operation,
		Method:    http.MethodPost,
		URL:       c.baseURL + path,
		Body:      body,
		Out:       out,
	})
}
