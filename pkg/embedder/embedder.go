package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/strata/pkg/utils"
)

// Client generates embeddings for text.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle embeds one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the length of every returned vector.
	Dimensions() int
	Close() error
}

// Config holds embedding client configuration.
type Config struct {
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

const (
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 100
)

var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// OpenAIEmbedder calls the OpenAI embeddings API or any compatible server.
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
}

var _ Client = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI embedder. An empty model falls back to
// DefaultModel and unknown models default to 1536 dimensions unless
// Config.Dimensions says otherwise.
func NewOpenAIEmbedder(apiKey string, cfg Config) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = modelDimensions[cfg.Model]
		if cfg.Dimensions == 0 {
			cfg.Dimensions = 1536
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		baseURL := strings.TrimRight(cfg.BaseURL, "/")
		if !hasAPIPath(baseURL) {
			baseURL += "/v1"
		}
		clientConfig.BaseURL = baseURL
		// local OpenAI-compatible servers accept any key
		if apiKey == "" {
			clientConfig = openai.DefaultConfig("dummy-key")
			clientConfig.BaseURL = baseURL
		}
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// ValidateBaseURL checks that baseURL is an absolute http(s) URL.
func ValidateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("baseURL cannot be empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid baseURL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("baseURL must use http:// or https:// scheme")
	}
	return nil
}

func hasAPIPath(baseURL string) bool {
	for _, p := range []string{"/v1", "/api"} {
		if strings.HasSuffix(baseURL, p) {
			return true
		}
	}
	return false
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, group := range utils.Batch(texts, e.config.BatchSize) {
		batch, err := e.embedBatch(ctx, group)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	}
	// only the text-embedding-3 family accepts a shortened output size
	if strings.HasPrefix(e.config.Model, "text-embedding-3") && e.config.Dimensions != modelDimensions[e.config.Model] {
		req.Dimensions = e.config.Dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

func (e *OpenAIEmbedder) Close() error { return nil }

// HashEmbedder maps lower-cased word tokens into a fixed number of buckets
// and L2-normalizes the result. Texts sharing words have positive cosine
// similarity, which is enough for local development and tests.
type HashEmbedder struct {
	dims int
}

var _ Client = (*HashEmbedder)(nil)

// NewHashEmbedder creates a HashEmbedder; dims <= 0 defaults to 256.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[int(f.Sum32()%uint32(h.dims))]++
	}
	if unit := utils.Normalize(vec); unit != nil {
		return unit
	}
	return vec
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Close() error { return nil }
