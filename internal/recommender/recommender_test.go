package recommender

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/plan"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testBundle() Bundle {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return Bundle{
		Deployments: []*store.DeploymentSnapshot{{
			ID: "12345", Name: "web", Status: store.DeploymentActive, ReplicaCount: 2,
			Metrics: map[string]any{"cpu_usage": 91}, ObservedAt: ts,
		}},
		Policy: policy.Defaults().Summary(),
		RecentActions: []*store.ActionRecord{{
			ID: 1, Timestamp: ts, ActionType: store.ActionScale, Status: store.StatusBlocked,
			Details: json.RawMessage(`{"new_count":3,"reason":"cpu high"}`),
		}},
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(testBundle())

	assert.Contains(t, p, "=== CURRENT DEPLOYMENTS ===")
	assert.Contains(t, p, "ID: 12345")
	assert.Contains(t, p, "Current Replicas: 2")
	assert.Contains(t, p, `"cpu_usage": 91`)
	assert.Contains(t, p, `"max_actions_per_hour": 10`)
	assert.Contains(t, p, "- 2025-03-01T12:00:00Z: scale [blocked] - cpu high")
	assert.Contains(t, p, "=== YOUR TASK ===")
}

func TestBuildPromptEmpty(t *testing.T) {
	p := BuildPrompt(Bundle{Policy: policy.Defaults().Summary()})
	assert.Contains(t, p, "No deployments currently tracked.")
	assert.Contains(t, p, "No recent actions.")
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 0.3, req.Temperature)
		assert.Equal(t, 1000, req.MaxTokens)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.True(t, strings.Contains(req.Messages[1].Content, "ID: 12345"))
		}

		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":"overloaded"}`))
			return
		}
		resp := map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, url string) *OpenAI {
	t.Helper()
	c, err := NewOpenAI(Config{BaseURL: url + "/", APIKey: "key", Model: "test-model", Logger: quiet()})
	require.NoError(t, err)
	return c
}

func TestOpenAIRecommend(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"reasoning":"fine","actions":[{"type":"no_action"}]}`)
	defer srv.Close()

	doc, err := newTestClient(t, srv.URL).Recommend(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Equal(t, "fine", doc["reasoning"])

	p, err := plan.Validate(doc)
	require.NoError(t, err)
	assert.Len(t, p.Entries, 1)
}

func TestOpenAIRecommendFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{"server error", http.StatusServiceUnavailable, ""},
		{"not json", http.StatusOK, "I think you should scale up"},
		{"not an object", http.StatusOK, `["scale"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.content)
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Recommend(context.Background(), testBundle())
			assert.Error(t, err)
		})
	}
}

func TestOpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Recommend(context.Background(), testBundle())
	assert.ErrorContains(t, err, "no choices")
}

func TestNewOpenAIValidates(t *testing.T) {
	_, err := NewOpenAI(Config{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAI(Config{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestMockRecommendsNoAction(t *testing.T) {
	doc, err := NewMock(quiet()).Recommend(context.Background(), Bundle{})
	require.NoError(t, err)

	p, err := plan.Validate(doc)
	require.NoError(t, err)
	assert.Empty(t, plan.Sanitize(p))
}
