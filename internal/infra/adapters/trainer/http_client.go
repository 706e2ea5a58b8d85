package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.TrainingService = (*HTTPClient)(nil)

// HTTPClient talks to the remote training service over its JSON API.
type HTTPClient struct {
	base   string
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	issued map[model.JobID]struct{}
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", domain.ErrInvalidArgument, baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    logger.With().Str("component", "TrainerClient").Logger(),
		issued: make(map[model.JobID]struct{}),
	}, nil
}

type trainRequest struct {
	ModelID     string `json:"model_id"`
	DatasetPath string `json:"dataset_path"`
}

type trainResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Submit sends exactly one POST /train. Any failure wraps domain.ErrSubmissionFailed.
func (c *HTTPClient) Submit(ctx context.Context, modelID, datasetRef string) (model.JobID, error) {
	if strings.TrimSpace(modelID) == "" || strings.TrimSpace(datasetRef) == "" {
		return "", fmt.Errorf("%w: model id and dataset path are required", domain.ErrInvalidArgument)
	}

	var out trainResponse
	status, err := c.do(ctx, http.MethodPost, "/train", trainRequest{ModelID: modelID, DatasetPath: datasetRef}, &out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}
	if status >= 300 {
		return "", fmt.Errorf("%w: http %d", domain.ErrSubmissionFailed, status)
	}
	id := model.JobID(strings.TrimSpace(out.JobID))
	if id == "" {
		return "", fmt.Errorf("%w: empty job_id in response", domain.ErrSubmissionFailed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.issued[id]; dup {
		return "", fmt.Errorf("%w: job_id %q was already issued in this session", domain.ErrSubmissionFailed, id)
	}
	c.issued[id] = struct{}{}

	c.log.Info().Str("job_id", string(id)).Str("model_id", modelID).Msg("training job submitted")
	return id, nil
}

// statusResponse uses pointers so that missing fields can be told apart from zero values.
type statusResponse struct {
	JobID    *string  `json:"job_id"`
	Status   *string  `json:"status"`
	Progress *float64 `json:"progress"`
	Logs     []string `json:"logs"`
}

// FetchStatus performs one GET /status/{id}. Transport and non-2xx failures wrap
// domain.ErrPollTransport; undecodable or invalid bodies wrap domain.ErrMalformedSnapshot.
func (c *HTTPClient) FetchStatus(ctx context.Context, id model.JobID) (model.Snapshot, error) {
	if id == "" {
		return model.Snapshot{}, fmt.Errorf("%w: empty job id", domain.ErrInvalidArgument)
	}

	var raw statusResponse
	status, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(string(id)), nil, &raw)
	if err != nil {
		if errors.Is(err, errDecode) {
			return model.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
		}
		return model.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrPollTransport, err)
	}
	if status >= 300 {
		return model.Snapshot{}, fmt.Errorf("%w: http %d", domain.ErrPollTransport, status)
	}
	return toSnapshot(raw, id)
}

func toSnapshot(raw statusResponse, want model.JobID) (model.Snapshot, error) {
	switch {
	case raw.JobID == nil:
		return model.Snapshot{}, fmt.Errorf("%w: missing job_id", domain.ErrMalformedSnapshot)
	case raw.Status == nil:
		return model.Snapshot{}, fmt.Errorf("%w: missing status", domain.ErrMalformedSnapshot)
	case raw.Progress == nil:
		return model.Snapshot{}, fmt.Errorf("%w: missing progress", domain.ErrMalformedSnapshot)
	}
	st, err := model.ParseJobStatus(*raw.Status)
	if err != nil {
		return model.Snapshot{}, err
	}
	logs := raw.Logs
	if logs == nil {
		logs = []string{}
	}
	snap := model.Snapshot{
		JobID:    model.JobID(*raw.JobID),
		Status:   st,
		Progress: int(math.Round(*raw.Progress)),
		Logs:     logs,
	}
	if err := snap.Validate(want); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

type chatRequest struct {
	Message string              `json:"message"`
	History []model.ChatMessage `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (c *HTTPClient) Chat(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	if history == nil {
		history = []model.ChatMessage{}
	}
	var out chatResponse
	status, err := c.do(ctx, http.MethodPost, "/chat", chatRequest{Message: message, History: history}, &out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrChatFailed, err)
	}
	if status >= 300 {
		return "", fmt.Errorf("%w: http %d", domain.ErrChatFailed, status)
	}
	return out.Response, nil
}

func (c *HTTPClient) Info(ctx context.Context) (adapter.BackendInfo, error) {
	var out adapter.BackendInfo
	status, err := c.do(ctx, http.MethodGet, "/", nil, &out)
	if err != nil {
		return adapter.BackendInfo{}, fmt.Errorf("%w: %v", domain.ErrPollTransport, err)
	}
	if status >= 300 {
		return adapter.BackendInfo{}, fmt.Errorf("%w: http %d", domain.ErrPollTransport, status)
	}
	return out, nil
}

var errDecode = errors.New("decode response")

// do sends one request and decodes a 2xx JSON body into out. Non-2xx bodies are drained
// and only the status code is returned.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("non-2xx response")
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: %v", errDecode, err)
		}
	}
	return resp.StatusCode, nil
}
