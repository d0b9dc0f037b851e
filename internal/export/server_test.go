package export

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/skobkin/drmtop/internal/config"
	"github.com/skobkin/drmtop/internal/gpu"
)

func testServer(t *testing.T, cfg config.ExportConfig) (*Server, *Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	srv := NewServer(cfg, hub, nil)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, hub, ts
}

func TestHealthz(t *testing.T) {
	_, _, ts := testServer(t, config.ExportConfig{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}
}

func TestHealthzRejectsPost(t *testing.T) {
	_, _, ts := testServer(t, config.ExportConfig{})

	resp, err := http.Post(ts.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d; want 405", resp.StatusCode)
	}
}

func TestVersionEndpoint(t *testing.T) {
	_, _, ts := testServer(t, config.ExportConfig{})

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Version == "" {
		t.Fatal("empty version in response")
	}
}

func TestDevicesBeforeFirstCycle(t *testing.T) {
	_, _, ts := testServer(t, config.ExportConfig{})

	resp, err := http.Get(ts.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503 before the first cycle", resp.StatusCode)
	}
}

func TestDevicesAfterPublish(t *testing.T) {
	_, hub, ts := testServer(t, config.ExportConfig{})
	hub.Publish([]*gpu.Device{testDevice(42)})

	resp, err := http.Get(ts.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}

	var snapshots []DeviceSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshots) != 1 || *snapshots[0].GPUUtilPct != 42 {
		t.Fatalf("snapshots = %+v", snapshots)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, hub, ts := testServer(t, config.ExportConfig{EnablePrometheus: true})
	hub.Publish([]*gpu.Device{testDevice(42)})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, "drmtop_gpu_util_percent") {
		t.Fatalf("metrics output missing device gauge:\n%s", body)
	}
	if !strings.Contains(body, `bus_id="0000:03:00.0"`) {
		t.Fatalf("metrics output missing bus_id label:\n%s", body)
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	_, _, ts := testServer(t, config.ExportConfig{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d; want 404 with prometheus disabled", resp.StatusCode)
	}
}

func TestWebsocketStreamsCycles(t *testing.T) {
	_, hub, ts := testServer(t, config.ExportConfig{
		AllowedOrigins: []string{"*"},
		WriteTimeout:   time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hub.Publish([]*gpu.Device{testDevice(33)})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var snapshots []DeviceSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snapshots) != 1 || *snapshots[0].GPUUtilPct != 33 {
		t.Fatalf("snapshots = %+v", snapshots)
	}
}

func TestWebsocketCapacityLimit(t *testing.T) {
	_, _, ts := testServer(t, config.ExportConfig{
		AllowedOrigins: []string{"*"},
		MaxClients:     1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, resp, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("second connection accepted above capacity")
	} else if resp != nil && resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", resp.StatusCode)
	}
}

func TestReserveWSReleases(t *testing.T) {
	srv, _, _ := testServer(t, config.ExportConfig{MaxClients: 1})

	if !srv.reserveWS() {
		t.Fatal("first reservation rejected")
	}
	if srv.reserveWS() {
		t.Fatal("reservation above capacity accepted")
	}
	if got := srv.wsRejected.Load(); got != 1 {
		t.Fatalf("rejected = %d; want 1", got)
	}
	if got := srv.wsActive.Load(); got != 1 {
		t.Fatalf("active = %d after rejected attempt; want 1", got)
	}

	srv.releaseWS()
	if !srv.reserveWS() {
		t.Fatal("reservation rejected after release")
	}
}

func TestReserveWSUnlimitedByDefault(t *testing.T) {
	srv, _, _ := testServer(t, config.ExportConfig{})

	for i := 0; i < 100; i++ {
		if !srv.reserveWS() {
			t.Fatalf("reservation %d rejected without a cap", i)
		}
	}
	if got := srv.wsActive.Load(); got != 100 {
		t.Fatalf("active = %d; want 100", got)
	}
}

func TestOriginPatterns(t *testing.T) {
	if got := originPatterns([]string{"*"}); got != nil {
		t.Fatalf("wildcard should disable origin checks, got %v", got)
	}
	got := originPatterns([]string{"example.com"})
	if len(got) != 1 || got[0] != "example.com" {
		t.Fatalf("patterns = %v", got)
	}
}
