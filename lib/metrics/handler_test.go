package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler(t *testing.T) {
	r := NewRegistry(time.Now())
	token, _, _ := r.Connect(0, time.Now())
	r.SentChunk(token)

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	snapshot := string(body)

	if !strings.Contains(snapshot, "# TYPE uptime_seconds gauge") {
		t.Error("missing uptime_seconds TYPE line")
	}
	if !strings.Contains(snapshot, "connections_count 1") {
		t.Errorf("missing live connection count, got: %s", snapshot[:min(len(snapshot), 200)])
	}
}
