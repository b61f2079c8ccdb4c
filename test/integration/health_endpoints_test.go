package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthLiveAndReadyEndpoints(t *testing.T) {
	srv := newAuthTestServer(t, serverOptions{})
	client := newBrowser(t)

	t.Run("live endpoint stable 200 payload", func(t *testing.T) {
		resp, env := doJSON(t, client, http.MethodGet, srv.URL+"/health/live", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("health live failed: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode live data: %v", err)
		}
		if got, _ := data["status"].(string); got != "ok" {
			t.Fatalf("expected status=ok, got %+v", data)
		}
	})

	t.Run("ready endpoint nil-runner ready payload", func(t *testing.T) {
		resp, env := doJSON(t, client, http.MethodGet, srv.URL+"/health/ready", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("health ready failed: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode ready data: %v", err)
		}
		if got, _ := data["status"].(string); got != "ready" {
			t.Fatalf("expected status=ready, got %+v", data)
		}
		if checks, ok := data["checks"].([]any); !ok || len(checks) != 0 {
			t.Fatalf("expected empty checks for nil runner, got %+v", data["checks"])
		}
	})

	t.Run("responses carry a request id", func(t *testing.T) {
		resp, _ := doJSON(t, client, http.MethodGet, srv.URL+"/health/live", nil, map[string]string{"X-Request-Id": "itest-123"})
		if got := resp.Header.Get("X-Request-Id"); got != "itest-123" {
			t.Fatalf("expected echoed request id, got %q", got)
		}
	})
}
