package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/provisioner/pkg/engine"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	workflows  map[string]bool
	executions map[string]string
	created    []map[string]any
	calls      []string
	status     int
}

func newFakeEngine(t *testing.T) (*fakeEngine, *engine.Client) {
	t.Helper()

	fake := &fakeEngine{workflows: map[string]bool{}, executions: map[string]string{}}

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := engine.NewClient(engine.Config{BaseURL: server.URL, APIKey: "secret"}, log.Discard())
	require.NoError(t, err)

	return fake, client
}

func (f *fakeEngine) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status = status
}

func (f *fakeEngine) setWorkflow(id string, active bool, executions string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.workflows[id] = active
	f.executions[id] = executions
}

func (f *fakeEngine) setExecutions(id, executions string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.executions[id] = executions
}

func (f *fakeEngine) createdBodies() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]map[string]any(nil), f.created...)
}

func (f *fakeEngine) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if r.Header.Get("X-API-KEY") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"engine exploded"}`))

		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/workflows":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.created = append(f.created, body)

		id := "wf-" + string(rune('0'+len(f.created)))
		f.workflows[id] = false
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "active": false})
	case r.Method == http.MethodGet && r.URL.Path == "/executions":
		body, ok := f.executions[r.URL.Query().Get("workflowId")]
		if !ok {
			body = `[]`
		}

		_, _ = w.Write([]byte(body))
	case len(parts) == 2 && parts[0] == "workflows":
		active, exists := f.workflows[parts[1]]
		if !exists {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"id": parts[1], "active": active})
		case http.MethodDelete:
			delete(f.workflows, parts[1])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[0] == "workflows" && r.Method == http.MethodPatch:
		if _, exists := f.workflows[parts[1]]; !exists {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		f.workflows[parts[1]] = parts[2] == "activate"
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestNewClient_ValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := engine.NewClient(engine.Config{BaseURL: "not a url", APIKey: "k"}, log.Discard())
	require.Error(t, err)

	_, err = engine.NewClient(engine.Config{BaseURL: "http://engine:5678"}, log.Discard())
	require.Error(t, err)
}

func TestClient_CreateInjectsCredentials(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	tmpl := testutil.NewTemplate()

	result, err := client.Create(context.Background(), tmpl, map[string]map[string]string{
		"tripletex": {"consumer_token": "ct", "employee_token": "et-value"},
	}, "Acme AS")
	require.NoError(t, err)

	assert.Equal(t, "wf-1", result.ExternalID)
	assert.False(t, result.Active)

	created := fake.createdBodies()
	require.Len(t, created, 1)
	body := created[0]
	assert.Equal(t, "Acme AS - Fakturering v1", body["name"])
	assert.Equal(t, false, body["active"])

	nodes := body["nodes"].([]any)
	params := nodes[0].(map[string]any)["parameters"].(map[string]any)
	assert.Equal(t, "et-value", params["token"])
}

func TestClient_CreateLeavesUnresolvedPlaceholders(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)

	_, err := client.Create(context.Background(), testutil.NewTemplate(), nil, "Acme")
	require.NoError(t, err)

	nodes := fake.createdBodies()[0]["nodes"].([]any)
	params := nodes[0].(map[string]any)["parameters"].(map[string]any)
	assert.Equal(t, "{{credential:tripletex_employee}}", params["token"])
}

func TestClient_ActivateDeactivateDelete(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	ctx := context.Background()

	created, err := client.Create(ctx, testutil.NewTemplate(), nil, "Acme")
	require.NoError(t, err)

	require.NoError(t, client.Activate(ctx, created.ExternalID))

	workflow, found, err := client.GetWorkflow(ctx, created.ExternalID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, workflow.Active)

	require.NoError(t, client.Deactivate(ctx, created.ExternalID))
	require.NoError(t, client.Delete(ctx, created.ExternalID))
	require.NoError(t, client.Delete(ctx, created.ExternalID), "deleting a missing workflow succeeds")

	_, found, err = client.GetWorkflow(ctx, created.ExternalID)
	require.NoError(t, err)
	assert.False(t, found)

	err = client.Activate(ctx, created.ExternalID)
	require.Error(t, err)

	var engineErr *engine.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, http.StatusNotFound, engineErr.Status)
	assert.Equal(t, "activate", engineErr.Op)
	assert.False(t, engineErr.Transient())

	calls := fake.callLog()
	assert.Contains(t, calls, "PATCH /workflows/wf-1/activate")
	assert.Contains(t, calls, "PATCH /workflows/wf-1/deactivate")
	assert.Contains(t, calls, "DELETE /workflows/wf-1")
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	fake.setStatus(http.StatusServiceUnavailable)

	err := client.Activate(context.Background(), "wf-1")
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
	assert.Contains(t, err.Error(), "engine exploded")
}

func TestClient_BreakerOpensOnRepeatedTransientFailures(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	fake.setStatus(http.StatusBadGateway)

	for range 5 {
		_ = client.Activate(context.Background(), "wf-1")
	}

	callsBefore := len(fake.callLog())

	err := client.Activate(context.Background(), "wf-1")
	require.Error(t, err)

	var engineErr *engine.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Zero(t, engineErr.Status)
	assert.True(t, engineErr.Transient())

	assert.Len(t, fake.callLog(), callsBefore, "open breaker does not reach the engine")
}

func TestClient_ListExecutions(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	fake.setExecutions("wf-array", `[
		{"id": 11, "workflowId": "wf-array", "status": "success", "mode": "trigger",
		 "startedAt": "2026-01-01T10:00:00Z", "stoppedAt": "2026-01-01T10:00:02Z"},
		{"id": "12", "status": "running", "startedAt": "2026-01-01T10:05:00Z"},
		{"id": "13", "status": "crashed", "startedAt": "2026-01-01T10:06:00Z", "stoppedAt": "2026-01-01T10:06:01Z"}
	]`)
	fake.setExecutions("wf-envelope", `{"data": [{"id": "21", "status": "timeout", "startedAt": "2026-01-01T10:00:00Z"}]}`)

	executions := client.ListExecutions(context.Background(), "wf-array", 10)
	require.Len(t, executions, 3)

	assert.Equal(t, "11", executions[0].ID)
	assert.Equal(t, models.ExecutionStatusSuccess, executions[0].Status)
	require.NotNil(t, executions[0].DurationMs)
	assert.Equal(t, int64(2000), *executions[0].DurationMs)
	assert.Equal(t, "trigger", executions[0].Metadata["mode"])

	assert.Equal(t, models.ExecutionStatusRunning, executions[1].Status)
	assert.Nil(t, executions[1].FinishedAt)
	assert.Equal(t, "wf-array", executions[1].ExternalID)

	assert.Equal(t, models.ExecutionStatusError, executions[2].Status)

	executions = client.ListExecutions(context.Background(), "wf-envelope", 10)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusTimeout, executions[0].Status)
}

func TestClient_ListExecutionsNeverFails(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	fake.setExecutions("wf-bad", `{"data": "nope"}`)

	executions := client.ListExecutions(context.Background(), "wf-bad", 10)
	assert.NotNil(t, executions)
	assert.Empty(t, executions)

	fake.setStatus(http.StatusInternalServerError)

	executions = client.ListExecutions(context.Background(), "wf-1", 10)
	assert.NotNil(t, executions)
	assert.Empty(t, executions)
}

func TestClient_ProbeHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		exists     bool
		active     bool
		executions string
		grade      models.HealthGrade
	}{
		{name: "active without executions", exists: true, active: true, executions: `[]`, grade: models.HealthHealthy},
		{
			name: "three errors in last five", exists: true, active: true, grade: models.HealthFailing,
			executions: `[
				{"id": "1", "status": "error", "startedAt": "2026-01-01T10:05:00Z"},
				{"id": "2", "status": "success", "startedAt": "2026-01-01T10:04:00Z"},
				{"id": "3", "status": "error", "startedAt": "2026-01-01T10:03:00Z"},
				{"id": "4", "status": "success", "startedAt": "2026-01-01T10:02:00Z"},
				{"id": "5", "status": "error", "startedAt": "2026-01-01T10:01:00Z"}
			]`,
		},
		{
			name: "one error", exists: true, active: true, grade: models.HealthDegraded,
			executions: `[{"id": "1", "status": "error", "startedAt": "2026-01-01T10:05:00Z"},
				{"id": "2", "status": "success", "startedAt": "2026-01-01T10:04:00Z"}]`,
		},
		{name: "inactive", exists: true, active: false, executions: `[]`, grade: models.HealthOffline},
		{name: "missing", exists: false, grade: models.HealthOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake, client := newFakeEngine(t)
			if tt.exists {
				fake.setWorkflow("wf-9", tt.active, tt.executions)
			}

			grade, err := client.ProbeHealth(context.Background(), "wf-9")
			require.NoError(t, err)
			assert.Equal(t, tt.grade, grade)
		})
	}
}

func TestClient_ProbeHealthUnknownOnEngineFailure(t *testing.T) {
	t.Parallel()

	fake, client := newFakeEngine(t)
	fake.setStatus(http.StatusInternalServerError)

	grade, err := client.ProbeHealth(context.Background(), "wf-1")
	require.Error(t, err)
	assert.Equal(t, models.HealthUnknown, grade)
}

func TestInjectCredentials(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NewTemplate(func(tpl *models.WorkflowTemplate) {
		tpl.Definition = json.RawMessage(`{"nodes": [{"name": "n", "type": "t",
			"credentials": {"a": "{{credential:tripletex_employee}}", "b": "{{credential:unbound}}"}}]}`)
	})

	out, err := engine.InjectCredentials(tmpl, map[string]map[string]string{
		"tripletex": {"employee_token": "emp"},
	})
	require.NoError(t, err)

	assert.Contains(t, string(out), `"a":"emp"`)
	assert.Contains(t, string(out), `"b":"{{credential:unbound}}"`)
}

func TestWorkflowName(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NewTemplate(func(tpl *models.WorkflowTemplate) { tpl.Version = 4 })

	assert.Equal(t, "Acme - Fakturering v4", engine.WorkflowName("Acme", tmpl))
}
