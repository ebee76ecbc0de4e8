package pagerduty

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/smart-agent/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, APIEndpoint, client.endpoint)

	event := client.buildEvent(notify.JobFailurePayload{
		JobID:      "job-1",
		AgentName:  "discovery",
		Variant:    "story",
		Error:      "boom",
		ErrorClass: "provider_failed",
		Metadata:   map[string]string{"job_id": "shadowed", "worker_ref": "w-1"},
	})

	assert.Equal(t, "discovery:job-1", event["dedup_key"])
	assert.Equal(t, "trigger", event["event_action"])

	section, ok := event["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, section["severity"])
	assert.Equal(t, "smart-agent", section["source"])
	assert.Equal(t, "agent-runner", section["component"])
	assert.Equal(t, "Agent job job-1 (discovery/story) failed", section["summary"])

	custom, ok := section["custom_details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "job-1", custom["job_id"], "metadata never overrides built-in keys")
	assert.Equal(t, "w-1", custom["worker_ref"])
	assert.Equal(t, "provider_failed", custom["error_class"])
}

func TestSendJobFailure(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)

	require.NoError(t, client.SendJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:    "job-2",
		Severity: "ERROR",
	}))
	assert.Equal(t, "rk", got["routing_key"])
	assert.Equal(t, "error", got["payload"].(map[string]any)["severity"])
}

func TestSendJobFailureError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"invalid event"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event")
}
