// Package engine is the HTTP client of the external workflow-execution engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukex/provisioner/pkg/health"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/templates"
)

const (
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
	maxErrorBody   = 512
)

// Config of the engine connection.
type Config struct {
	BaseURL string        `validate:"required,url"`
	APIKey  string        `validate:"required"`
	Timeout time.Duration `validate:"min=0"`
}

// CreateResult is the engine's answer to a workflow create.
type CreateResult struct {
	ExternalID string
	Active     bool
}

// Workflow is the engine's view of one workflow.
type Workflow struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// Client talks to the engine API. Calls go through a circuit breaker so a dead
// engine fails fast with a transient *Error.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	err := validator.New().Struct(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	logger = logger.With("module", "engine")

	settings := gobreaker.Settings{
		Name:        "engine",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("engine circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}, nil
}

// WorkflowName is the engine-side name of a tenant's instance of tmpl.
func WorkflowName(tenantLabel string, tmpl *models.WorkflowTemplate) string {
	return fmt.Sprintf("%s - %s v%d", tenantLabel, tmpl.Name, tmpl.Version)
}

// Create submits tmpl as a new inactive workflow with credentials injected.
// creds maps service to field to value.
func (c *Client) Create(
	ctx context.Context,
	tmpl *models.WorkflowTemplate,
	creds map[string]map[string]string,
	tenantLabel string,
) (CreateResult, error) {
	definition, err := InjectCredentials(tmpl, creds)
	if err != nil {
		return CreateResult{}, &Error{Op: "create", Err: err}
	}

	var body map[string]any

	decoder := json.NewDecoder(bytes.NewReader(definition))
	decoder.UseNumber()

	err = decoder.Decode(&body)
	if err != nil {
		return CreateResult{}, &Error{Op: "create", Err: fmt.Errorf("invalid definition: %w", err)}
	}

	body["name"] = WorkflowName(tenantLabel, tmpl)
	body["active"] = false

	var created Workflow

	err = c.do(ctx, "create", http.MethodPost, "/workflows", body, &created)
	if err != nil {
		return CreateResult{}, err
	}

	if created.ID == "" {
		return CreateResult{}, &Error{Op: "create", Status: http.StatusOK, Body: "engine returned no workflow id"}
	}

	c.logger.InfoContext(ctx, "created workflow", "external_id", created.ID, "automation_id", tmpl.AutomationID)

	return CreateResult{ExternalID: created.ID, Active: created.Active}, nil
}

func (c *Client) Activate(ctx context.Context, externalID string) error {
	return c.do(ctx, "activate", http.MethodPatch, "/workflows/"+url.PathEscape(externalID)+"/activate", nil, nil)
}

func (c *Client) Deactivate(ctx context.Context, externalID string) error {
	return c.do(ctx, "deactivate", http.MethodPatch, "/workflows/"+url.PathEscape(externalID)+"/deactivate", nil, nil)
}

// Delete removes a workflow. A workflow that is already gone counts as deleted.
func (c *Client) Delete(ctx context.Context, externalID string) error {
	err := c.do(ctx, "delete", http.MethodDelete, "/workflows/"+url.PathEscape(externalID), nil, nil)
	if IsNotFound(err) {
		return nil
	}

	return err
}

// GetWorkflow returns found=false when the engine does not know externalID.
func (c *Client) GetWorkflow(ctx context.Context, externalID string) (Workflow, bool, error) {
	var workflow Workflow

	err := c.do(ctx, "get", http.MethodGet, "/workflows/"+url.PathEscape(externalID), nil, &workflow)
	if err != nil {
		if IsNotFound(err) {
			return Workflow{}, false, nil
		}

		return Workflow{}, false, err
	}

	return workflow, true, nil
}

// ListExecutions returns the newest executions of a workflow. Failures are
// logged and yield an empty slice.
func (c *Client) ListExecutions(ctx context.Context, externalID string, limit int) []models.WorkflowExecution {
	query := url.Values{}
	query.Set("workflowId", externalID)
	query.Set("limit", strconv.Itoa(limit))

	var raw json.RawMessage

	err := c.do(ctx, "list_executions", http.MethodGet, "/executions?"+query.Encode(), nil, &raw)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to list executions", "external_id", externalID, "error", err)

		return []models.WorkflowExecution{}
	}

	executions, err := decodeExecutions(raw, externalID)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to decode executions", "external_id", externalID, "error", err)

		return []models.WorkflowExecution{}
	}

	return executions
}

// ProbeHealth grades a workflow from the engine's point of view. A missing or
// inactive workflow is offline. Errors reaching the engine yield unknown.
func (c *Client) ProbeHealth(ctx context.Context, externalID string) (models.HealthGrade, error) {
	workflow, found, err := c.GetWorkflow(ctx, externalID)
	if err != nil {
		return models.HealthUnknown, err
	}

	if !found || !workflow.Active {
		return models.HealthOffline, nil
	}

	return health.GradeExecutions(c.ListExecutions(ctx, externalID, health.RecentWindow)), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, op, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Op: op, Err: err}
	}

	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	var reader io.Reader

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, Status: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Body: "malformed response", Err: err}
	}

	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

// InjectCredentials resolves the template's bound placeholders from creds.
// Placeholders without a binding or a value are left as they are.
func InjectCredentials(tmpl *models.WorkflowTemplate, creds map[string]map[string]string) (json.RawMessage, error) {
	return templates.Substitute(tmpl.Definition, func(name string) (string, bool) {
		binding, ok := tmpl.Bindings[name]
		if !ok {
			return "", false
		}

		value := creds[binding.Service][binding.Field]

		return value, value != ""
	})
}
