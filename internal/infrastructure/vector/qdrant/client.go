package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/resilience"
)

const textPayloadKey = "text"

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

type statusError struct {
	operation  string
	statusCode int
	status     string
	body       string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.operation, e.status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.operation, e.status, e.body)
}

// Upsert stores one passage. Named passages of the same type get a stable point ID,
// so re-indexing a guideline replaces the previous version.
func (c *Client) Upsert(ctx context.Context, text string, vector []float32, metadata map[string]any) (string, error) {
	if len(vector) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", errors.New("empty vector"))
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return "", err
	}

	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[textPayloadKey] = text

	id := pointID(metadata)
	reqBody := map[string]any{
		"points": []map[string]any{{
			"id":      id,
			"vector":  vector,
			"payload": payload,
		}},
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	if err := c.do(ctx, "upsert", http.MethodPut, url, reqBody, nil); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.Passage, error) {
	if limit <= 0 {
		limit = 3
	}
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if must := filterConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, "search", http.MethodPost, url, reqBody, &searchResp); err != nil {
		var status *statusError
		if errors.As(err, &status) && status.statusCode == http.StatusNotFound {
			// Nothing indexed yet.
			return []domain.Passage{}, nil
		}
		return nil, err
	}

	out := make([]domain.Passage, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		metadata := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			if k != textPayloadKey {
				metadata[k] = v
			}
		}
		out = append(out, domain.Passage{
			ID:       fmt.Sprintf("%v", r.ID),
			Text:     getStringPayload(r.Payload, textPayloadKey),
			Metadata: metadata,
			Score:    r.Score,
		})
	}
	return out, nil
}

func filterConditions(filter domain.SearchFilter) []map[string]any {
	must := make([]map[string]any, 0, 2)
	if filter.Type != "" {
		must = append(must, map[string]any{"key": "type", "match": map[string]any{"value": filter.Type}})
	}
	if filter.Name != "" {
		must = append(must, map[string]any{"key": "name", "match": map[string]any{"value": filter.Name}})
	}
	return must
}

func pointID(metadata map[string]any) string {
	kind, _ := metadata["type"].(string)
	name, _ := metadata["name"].(string)
	if kind != "" && name != "" {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"/"+name)).String()
	}
	return uuid.NewString()
}

func (c *Client) do(ctx context.Context, operation, method, url string, payload any, out any) error {
	run := func(callCtx context.Context) error {
		return c.send(callCtx, operation, method, url, payload, out)
	}
	var err error
	if c.executor == nil {
		err = run(ctx)
	} else {
		err = c.executor.Execute(ctx, "qdrant."+operation, run, classifyQdrantError)
	}
	if err == nil {
		return nil
	}
	if classifyQdrantError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "qdrant "+operation, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, operation, method, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			operation:  operation,
			statusCode: resp.StatusCode,
			status:     resp.Status,
			body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	var status *statusError
	if errors.As(err, &status) {
		retryable := status.statusCode == http.StatusTooManyRequests || status.statusCode >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	return resilience.ClassifyTransport(err)
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
	err := c.send(ctx, "ensure collection", http.MethodPut, url, reqBody, nil)
	var status *statusError
	// 409 when the collection already exists.
	if err != nil && !(errors.As(err, &status) && status.statusCode == http.StatusConflict) {
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

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
