package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/signstream/internal/audio"
	"github.com/skypro1111/signstream/internal/bridge"
	"github.com/skypro1111/signstream/internal/capture"
	"github.com/skypro1111/signstream/internal/config"
	"github.com/skypro1111/signstream/internal/metrics"
	"github.com/skypro1111/signstream/internal/pipeline"
	"github.com/skypro1111/signstream/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePipeline records control calls
type fakePipeline struct {
	mu        sync.Mutex
	startErr  error
	recording bool
	starts    int
}

func (p *fakePipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		return p.startErr
	}
	p.recording = true
	return nil
}

func (p *fakePipeline) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.recording
	p.recording = false
	return was
}

func (p *fakePipeline) Status() pipeline.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording {
		return pipeline.Snapshot{Status: pipeline.StatusListening, Recording: true}
	}
	return pipeline.Snapshot{Status: pipeline.StatusReady}
}

func (p *fakePipeline) GetStats() pipeline.Stats {
	return pipeline.Stats{Sent: 3}
}

func newTestServer(t *testing.T, p Pipeline, components Components) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	components.Gatherer = reg

	cfg := config.Default()
	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, p, components, m)
	server := httptest.NewServer(h.Handler())
	t.Cleanup(server.Close)
	return server, m
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestStartStopStatus(t *testing.T) {
	p := &fakePipeline{}
	server, _ := newTestServer(t, p, Components{})

	resp, err := http.Post(server.URL+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /start failed: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != pipeline.StatusListening {
		t.Errorf("Expected %s, got %v", pipeline.StatusListening, body["status"])
	}

	resp, err = http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	if body := decodeBody(t, resp); body["recording"] != true {
		t.Errorf("Expected recording status, got %v", body)
	}

	resp, err = http.Post(server.URL+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /stop failed: %v", err)
	}
	if body := decodeBody(t, resp); body["stopped"] != true {
		t.Errorf("Expected stopped=true, got %v", body)
	}

	resp, err = http.Post(server.URL+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /stop failed: %v", err)
	}
	if body := decodeBody(t, resp); body["stopped"] != false {
		t.Errorf("Expected stopped=false when idle, got %v", body)
	}
}

func TestStartErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		kind       string
	}{
		{"already recording", capture.ErrAlreadyRecording, http.StatusConflict, "already_recording"},
		{"access denied", capture.ErrAccessDenied, http.StatusForbidden, "access_denied"},
		{"no audio", capture.ErrNoAudioTrack, http.StatusUnprocessableEntity, "no_audio_track"},
		{"canceled", capture.ErrStartCanceled, http.StatusConflict, "start_canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, &fakePipeline{startErr: tt.err}, Components{})

			resp, err := http.Post(server.URL+"/start", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /start failed: %v", err)
			}
			body := decodeBody(t, resp)
			if resp.StatusCode != tt.statusCode {
				t.Errorf("Expected %d, got %d", tt.statusCode, resp.StatusCode)
			}
			if body["kind"] != tt.kind {
				t.Errorf("Expected kind %s, got %v", tt.kind, body["kind"])
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, m := newTestServer(t, &fakePipeline{}, Components{})

	resp, err := http.Get(server.URL + "/start")
	if err != nil {
		t.Fatalf("GET /start failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}

	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("GET", "/start", "client_error")); got != 1 {
		t.Errorf("Expected 1 client error recorded, got %v", got)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	client, err := transport.NewClient(transport.Config{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	server, _ := newTestServer(t, &fakePipeline{}, Components{Transport: client})

	for _, path := range []string{"/", "/health", "/config", "/stats"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(server.URL + path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", path, err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Errorf("Expected 200, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON, got %s", ct)
			}
			decodeBody(t, resp)
		})
	}

	resp, err := http.Get(server.URL + "/unknown")
	if err != nil {
		t.Fatalf("GET /unknown failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(data), "signstream_http_requests_total") {
		t.Error("Expected HTTP request metrics to be exposed")
	}
}

func TestBridgeEndpoint(t *testing.T) {
	sender := bridgeSender(func(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error) {
		return &transport.TranslationResult{
			Success: true,
			Data:    &transport.ResultData{Clips: []string{"bridged.mp4"}},
		}, nil
	})
	processor := bridge.NewProcessor(sender, testLogger())
	server, _ := newTestServer(t, &fakePipeline{}, Components{Bridge: processor})

	client, err := bridge.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http")+"/bridge", testLogger())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	result, err := client.Send(context.Background(), &audio.AudioChunk{Sequence: 1, MimeType: audio.MimeType, Data: []byte("x")})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := result.Artifacts(); len(got) != 1 || got[0] != "bridged.mp4" {
		t.Errorf("Expected [bridged.mp4], got %v", got)
	}
	if processor.GetStats().Handled != 1 {
		t.Errorf("Expected 1 handled message, got %d", processor.GetStats().Handled)
	}
}

type bridgeSender func(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error)

func (f bridgeSender) Send(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error) {
	return f(ctx, chunk)
}
