package commitlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Commitline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Location    string `json:"location,omitempty"`
	OwnerUserID string `json:"owner_user_id"`
	State       string `json:"state"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Constraint represents a readiness blocker.
type Constraint struct {
	ID              string  `json:"id"`
	WorkItemID      string  `json:"work_item_id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	ClearedByUserID *string `json:"cleared_by_user_id,omitempty"`
	ClearedAt       *string `json:"cleared_at,omitempty"`
}

// Commitment represents a promise against a work item.
type Commitment struct {
	ID                string  `json:"id"`
	WorkItemID        string  `json:"work_item_id"`
	CommittedByUserID string  `json:"committed_by_user_id"`
	OwnerUserID       string  `json:"owner_user_id"`
	DueAt             string  `json:"due_at"`
	Status            string  `json:"status"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	FailedAt          *string `json:"failed_at,omitempty"`
}

// LearningSignal represents the cause record behind a failed commitment.
type LearningSignal struct {
	ID             string  `json:"id"`
	WorkItemID     string  `json:"work_item_id"`
	CommitmentID   string  `json:"commitment_id"`
	PrimaryCause   string  `json:"primary_cause"`
	SecondaryCause *string `json:"secondary_cause,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	DrilldownKey   string  `json:"drilldown_key"`
	CreatedAt      string  `json:"created_at"`
}

// DrilldownRow is one aggregation bucket.
type DrilldownRow struct {
	Key             string `json:"key"`
	PrimaryCause    string `json:"primary_cause"`
	Location        string `json:"location"`
	ReferenceSystem string `json:"reference_system"`
	Count           int    `json:"count"`
	LatestCreatedAt string `json:"latest_created_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses. For refused operations the envelope
// carries code "refusal" and the open constraint ids in Details.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsRefusal reports whether the server rejected the operation as an
// invariant violation rather than a transport or validation error.
func (e *APIError) IsRefusal() bool {
	return e.Code == "refusal"
}

// OpenConstraintIDs returns the constraints a not-ready refusal cited.
func (e *APIError) OpenConstraintIDs() []string {
	raw, ok := e.Details["open_constraint_ids"].([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// CreateWorkItem creates a work item.
func (c *Client) CreateWorkItem(ctx context.Context, title, ownerUserID, location string) (WorkItem, error) {
	body := map[string]any{
		"title":         title,
		"owner_user_id": ownerUserID,
	}
	if location != "" {
		body["location"] = location
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "v0/work-items", body, &resp)
	return resp, err
}

// GetWorkItem fetches a work item with constraints and commitments.
func (c *Client) GetWorkItem(ctx context.Context, id string) (WorkItem, []Constraint, []Commitment, error) {
	var resp struct {
		WorkItem
		Constraints []Constraint `json:"constraints"`
		Commitments []Commitment `json:"commitments"`
	}
	err := c.do(ctx, http.MethodGet, "v0/work-items/"+url.PathEscape(id), nil, &resp)
	return resp.WorkItem, resp.Constraints, resp.Commitments, err
}

// AddConstraint attaches an open constraint.
func (c *Client) AddConstraint(ctx context.Context, workItemID, constraintType, description string) (Constraint, error) {
	body := map[string]any{"type": constraintType}
	if description != "" {
		body["description"] = description
	}
	var resp Constraint
	endpoint := fmt.Sprintf("v0/work-items/%s/constraints", url.PathEscape(workItemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ClearConstraint marks a constraint cleared on behalf of the caller.
func (c *Client) ClearConstraint(ctx context.Context, id string) (Constraint, error) {
	var resp Constraint
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/constraints/%s/clear", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ReopenConstraint sets a cleared constraint back to open.
func (c *Client) ReopenConstraint(ctx context.Context, id string) (Constraint, error) {
	var resp Constraint
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/constraints/%s/reopen", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CreateCommitment commits to a Ready work item.
func (c *Client) CreateCommitment(ctx context.Context, workItemID string, dueAt time.Time) (Commitment, error) {
	body := map[string]any{"due_at": dueAt.UTC().Format(time.RFC3339)}
	var resp Commitment
	endpoint := fmt.Sprintf("v0/work-items/%s/commitments", url.PathEscape(workItemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CompleteCommitment completes a commitment; completion after the due date
// is recorded as a failure by the server.
func (c *Client) CompleteCommitment(ctx context.Context, id string) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/commitments/%s/complete", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// FailCommitment fails a commitment with a categorized cause.
func (c *Client) FailCommitment(ctx context.Context, id, primaryCause, secondaryCause, notes string) (Commitment, LearningSignal, error) {
	body := map[string]any{"primary_cause": primaryCause}
	if secondaryCause != "" {
		body["secondary_cause"] = secondaryCause
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp struct {
		Commitment Commitment     `json:"commitment"`
		Signal     LearningSignal `json:"signal"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/commitments/%s/fail", url.PathEscape(id)), body, &resp)
	return resp.Commitment, resp.Signal, err
}

// ResetWorkItem starts a fresh lifecycle for a terminal work item.
func (c *Client) ResetWorkItem(ctx context.Context, id string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/work-items/%s/reset", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Signals lists learning signals.
func (c *Client) Signals(ctx context.Context, workItemID, cause string) ([]LearningSignal, error) {
	endpoint := "v0/signals"
	q := url.Values{}
	if workItemID != "" {
		q.Set("work_item_id", workItemID)
	}
	if cause != "" {
		q.Set("cause", cause)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []LearningSignal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Drilldown returns the signal aggregation.
func (c *Client) Drilldown(ctx context.Context, since, until string) ([]DrilldownRow, error) {
	endpoint := "v0/signals/drilldown"
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	if until != "" {
		q.Set("until", until)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []DrilldownRow
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns audit events, most recent limit entries in log order.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
