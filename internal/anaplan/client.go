package anaplan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.anaplan.com/2/0"
	defaultAuthURL = "https://auth.anaplan.com/token/authenticate"

	authScheme = "AnaplanAuthToken"

	maxBodyDetail = 1000
)

type ClientConfig struct {
	BaseURL        string
	AuthURL        string
	Timeout        time.Duration // metadata and revision calls
	PromoteTimeout time.Duration // promotion and action-task calls
	Retries        int           // transport retries for idempotent reads
	HTTPClient     *http.Client
	Logger         *log.Logger
}

// Client talks to the planning service API. The auth token is acquired once
// via Authenticate and treated as immutable afterwards, so a single client
// is safe for concurrent use by many workers.
type Client struct {
	baseURL string
	authURL string
	client  *http.Client
	timeout time.Duration
	promote time.Duration
	retries int
	logger  *log.Logger
	token   string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	promote := cfg.PromoteTimeout
	if promote <= 0 {
		promote = 2 * timeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		authURL: authURL,
		client:  client,
		timeout: timeout,
		promote: promote,
		retries: retries,
		logger:  logger,
	}, nil
}

type authResponse struct {
	TokenInfo struct {
		TokenValue string `json:"tokenValue"`
	} `json:"tokenInfo"`
	Token     string `json:"token"`
	AuthToken string `json:"authToken"`
}

func (r authResponse) value() string {
	if r.TokenInfo.TokenValue != "" {
		return r.TokenInfo.TokenValue
	}
	if r.Token != "" {
		return r.Token
	}
	return r.AuthToken
}

// Authenticate obtains a bearer token with basic auth and stores it on the
// client. It must complete before any other call and is not safe to race
// with them.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.authURL, nil)
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{StatusCode: resp.StatusCode, Body: readBodyDetail(resp.Body)}
	}
	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	token := parsed.value()
	if token == "" {
		return ErrTokenMissing
	}
	c.token = token
	return nil
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var parsed struct {
		Workspaces []workspaceResponse `json:"workspaces"`
		Items      []workspaceResponse `json:"items"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/workspaces", &parsed); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	raw := parsed.Workspaces
	if raw == nil {
		raw = parsed.Items
	}
	out := make([]Workspace, 0, len(raw))
	for _, w := range raw {
		out = append(out, Workspace{ID: w.ID, Name: w.Name})
	}
	return out, nil
}

func (c *Client) ListModels(ctx context.Context, workspaceID string) ([]Model, error) {
	var parsed struct {
		Models []modelResponse `json:"models"`
		Items  []modelResponse `json:"items"`
	}
	url := fmt.Sprintf("%s/workspaces/%s/models", c.baseURL, workspaceID)
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return nil, fmt.Errorf("list models in %s: %w", workspaceID, err)
	}
	raw := parsed.Models
	if raw == nil {
		raw = parsed.Items
	}
	out := make([]Model, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.model(workspaceID))
	}
	return out, nil
}

func (c *Client) GetModel(ctx context.Context, workspaceID, modelID string) (Model, error) {
	var parsed struct {
		Model *modelResponse `json:"model"`
		modelResponse
	}
	url := fmt.Sprintf("%s/workspaces/%s/models/%s", c.baseURL, workspaceID, modelID)
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return Model{}, fmt.Errorf("get model %s: %w", modelID, err)
	}
	if parsed.Model != nil {
		return parsed.Model.model(workspaceID), nil
	}
	return parsed.modelResponse.model(workspaceID), nil
}

func (c *Client) GetWorkspaceUsage(ctx context.Context, workspaceID string) (Usage, error) {
	var parsed usageResponse
	url := fmt.Sprintf("%s/workspaces/%s/usage", c.baseURL, workspaceID)
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return Usage{}, fmt.Errorf("workspace usage %s: %w", workspaceID, err)
	}
	return parsed.usage(), nil
}

func (c *Client) ListRevisions(ctx context.Context, workspaceID, modelID string) ([]Revision, error) {
	var parsed struct {
		Revisions []revisionResponse `json:"revisions"`
		Items     []revisionResponse `json:"items"`
	}
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/revisions", c.baseURL, workspaceID, modelID)
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return nil, fmt.Errorf("list revisions for %s: %w", modelID, err)
	}
	raw := parsed.Revisions
	if raw == nil {
		raw = parsed.Items
	}
	out := make([]Revision, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.revision())
	}
	return out, nil
}

func (c *Client) CreateRevision(ctx context.Context, workspaceID, modelID, name string) (Revision, error) {
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/revisions", c.baseURL, workspaceID, modelID)
	res, body, err := c.postJSON(ctx, url, map[string]string{"name": name}, c.timeout)
	if err != nil {
		return Revision{}, fmt.Errorf("create revision %q on %s: %w", name, modelID, err)
	}
	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusConflict:
		return Revision{}, fmt.Errorf("create revision %q on %s: %w", name, modelID, ErrConflict)
	default:
		return Revision{}, &APIError{StatusCode: res.StatusCode, Body: res.Body}
	}
	var parsed revisionResponse
	if err := json.Unmarshal(body, &parsed); err != nil || (parsed.ID == "" && parsed.Name == "") {
		// The service sometimes acknowledges without a payload.
		return Revision{Name: name}, nil
	}
	return parsed.revision(), nil
}

// PromoteRevision issues the primary promotion request against the target
// model. Non-2xx responses come back in the CallResult, not as errors.
func (c *Client) PromoteRevision(ctx context.Context, targetWorkspaceID, targetModelID, sourceModelID, revisionName string) (CallResult, error) {
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/revisions/promote", c.baseURL, targetWorkspaceID, targetModelID)
	payload := map[string]string{"sourceModelId": sourceModelID, "revisionName": revisionName}
	res, _, err := c.postJSON(ctx, url, payload, c.promote)
	if err != nil {
		return CallResult{}, fmt.Errorf("promote to %s: %w", targetModelID, err)
	}
	return res, nil
}

func (c *Client) ListActions(ctx context.Context, workspaceID, modelID string) ([]Action, error) {
	var parsed struct {
		Actions []actionResponse `json:"actions"`
		Items   []actionResponse `json:"items"`
	}
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/actions", c.baseURL, workspaceID, modelID)
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return nil, fmt.Errorf("list actions for %s: %w", modelID, err)
	}
	raw := parsed.Actions
	if raw == nil {
		raw = parsed.Items
	}
	out := make([]Action, 0, len(raw))
	for _, a := range raw {
		out = append(out, Action{ID: a.ID, Name: a.Name})
	}
	return out, nil
}

// StartActionTask invokes a generic model action with the promotion payload.
func (c *Client) StartActionTask(ctx context.Context, workspaceID, modelID, actionID, sourceModelID, revisionName string) (CallResult, error) {
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/actions/%s/tasks", c.baseURL, workspaceID, modelID, actionID)
	payload := map[string]string{"sourceModelId": sourceModelID, "revisionName": revisionName}
	res, _, err := c.postJSON(ctx, url, payload, c.promote)
	if err != nil {
		return CallResult{}, fmt.Errorf("start action task %s on %s: %w", actionID, modelID, err)
	}
	return res, nil
}

// StartModelSync creates an asynchronous synchronization task on the target
// model for the given source revision.
func (c *Client) StartModelSync(ctx context.Context, workspaceID, modelID, sourceRevisionID string) (Task, error) {
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/tasks/modelSynchronization", c.baseURL, workspaceID, modelID)
	payload := map[string]string{"sourceRevisionId": sourceRevisionID}
	res, body, err := c.postJSON(ctx, url, payload, c.promote)
	if err != nil {
		return Task{}, fmt.Errorf("start model sync on %s: %w", modelID, err)
	}
	if !res.OK() {
		return Task{}, &APIError{StatusCode: res.StatusCode, Body: res.Body}
	}
	var parsed taskResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Task{}, fmt.Errorf("decode sync task response: %w", err)
	}
	task := parsed.task()
	if task.ID == "" {
		return Task{}, fmt.Errorf("sync task id missing in response")
	}
	return task, nil
}

func (c *Client) GetTask(ctx context.Context, workspaceID, modelID, taskID string) (Task, error) {
	var parsed taskResponse
	url := fmt.Sprintf("%s/workspaces/%s/models/%s/tasks/%s", c.baseURL, workspaceID, modelID, taskID)
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	task := parsed.task()
	if task.ID == "" {
		task.ID = taskID
	}
	return task, nil
}

// getJSON performs an idempotent read with bounded transport retry. A
// well-formed non-2xx response is returned as *APIError without retrying.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("build request: %w", err)
		}
		c.setHeaders(req)
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			err = decodeJSON(resp, out)
			if err == nil {
				return nil
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return err
			}
			lastErr = err
		}
		if i < attempts-1 {
			c.logger.Printf("retrying GET %s after error: %v", url, lastErr)
			time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

// postJSON performs a single write attempt. Writes are never retried at this
// layer; the executor owns the primary/fallback policy.
func (c *Client) postJSON(ctx context.Context, url string, payload interface{}, timeout time.Duration) (CallResult, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return CallResult{}, nil, fmt.Errorf("marshal payload: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return CallResult{}, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CallResult{}, nil, fmt.Errorf("read response: %w", err)
	}
	return CallResult{StatusCode: resp.StatusCode, Body: truncate(string(raw))}, raw, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", authScheme+" "+c.token)
	req.Header.Set("Content-Type", "application/json")
}

func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: readBodyDetail(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readBodyDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxBodyDetail))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func truncate(s string) string {
	if len(s) > maxBodyDetail {
		return s[:maxBodyDetail]
	}
	return s
}
