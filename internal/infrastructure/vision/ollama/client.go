package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/kirillkom/document-scan-service/internal/infrastructure/resilience"
)

// Client streams text extraction for page images from an Ollama vision
// model. Generation runs over /api/generate with stream enabled, so
// fragments arrive as NDJSON lines until the done marker.
type Client struct {
	baseURL    string
	model      string
	numPredict int
	numCtx     int
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	// NumPredict bounds the number of generated tokens per page.
	NumPredict int
	// NumCtx sets the model context window.
	NumCtx int
	// Executor, when set, wraps calls with retry and circuit breaking.
	Executor *resilience.Executor
}

func New(baseURL, model string, opts Options) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		numPredict: opts.NumPredict,
		numCtx:     opts.NumCtx,
		// No client-level timeout: a page streams for as long as the
		// run context allows.
		httpClient: &http.Client{},
		executor:   opts.Executor,
	}
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, image []byte, onFragment func(text string) error) error {
	var emitted atomic.Bool
	call := func(ctx context.Context) error {
		return c.stream(ctx, prompt, image, func(text string) error {
			emitted.Store(true)
			return onFragment(text)
		})
	}

	var err error
	if c.executor == nil {
		err = call(ctx)
	} else {
		// Fragments already handed to the caller cannot be replayed,
		// so retries stop once the first one is out. The breaker still
		// records the failure.
		classifier := func(err error) resilience.ErrorClassification {
			class := classifyVisionError(err)
			if emitted.Load() {
				class.Retryable = false
			}
			return class
		}
		err = c.executor.Execute(ctx, "vision_generate", call, classifier)
	}
	return wrapTemporaryIfNeeded("vision generate", err)
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Images  []string        `json:"images"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	// Temperature stays zero so repeated scans of the same page yield
	// the same text.
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (c *Client) stream(ctx context.Context, prompt string, image []byte, onFragment func(string) error) error {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: true,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Options: generateOptions{
			NumPredict: c.numPredict,
			NumCtx:     c.numCtx,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "generate",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode generate chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama generate: %s", chunk.Error)
		}
		if chunk.Response != "" {
			if err := onFragment(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read generate stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("generate stream ended without done marker")
}
