package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/skypro1111/signstream/internal/audio"
	"github.com/skypro1111/signstream/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func uploadRequest(t *testing.T, field string, payload []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, transport.FileName)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	_, _ = part.Write(payload)
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/process-audio", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestStaticTranslatorCycles(t *testing.T) {
	translator := NewStaticTranslator([]string{"a.mp4", "b.mp4", "c.mp4"}, 2)

	var got [][]string
	for i := 0; i < 3; i++ {
		clips, err := translator.Translate(context.Background(), []byte("x"))
		if err != nil {
			t.Fatalf("Translate failed: %v", err)
		}
		got = append(got, clips)
	}

	want := [][]string{{"a.mp4", "b.mp4"}, {"c.mp4", "a.mp4"}, {"b.mp4", "c.mp4"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if _, err := translator.Translate(context.Background(), nil); err == nil {
		t.Error("Expected error for empty audio")
	}

	if clips, _ := NewStaticTranslator(nil, 0).Translate(context.Background(), []byte("x")); !reflect.DeepEqual(clips, []string{DefaultClip}) {
		t.Errorf("Expected default clip, got %v", clips)
	}
}

func TestProcessAudio(t *testing.T) {
	server := New(NewStaticTranslator([]string{"a.mp4", "b.mp4"}, 2), testLogger(), Config{})

	resp, err := server.App().Test(uploadRequest(t, transport.FieldName, []byte("opus-bytes")), -1)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decode(t, resp)
	if body["success"] != true {
		t.Errorf("Expected success, got %v", body)
	}
	data, _ := body["data"].(map[string]any)
	if data == nil {
		t.Fatalf("Expected data object, got %v", body)
	}
	if !reflect.DeepEqual(data["clips"], []any{"a.mp4", "b.mp4"}) {
		t.Errorf("Expected clips [a.mp4 b.mp4], got %v", data["clips"])
	}
	if data["bytes"] != float64(len("opus-bytes")) {
		t.Errorf("Expected byte count, got %v", data["bytes"])
	}
	if server.GetStats().Received != 1 {
		t.Errorf("Expected 1 received chunk, got %d", server.GetStats().Received)
	}
}

func TestProcessAudioMissingField(t *testing.T) {
	server := New(NewStaticTranslator(nil, 1), testLogger(), Config{})

	resp, err := server.App().Test(uploadRequest(t, "file", []byte("x")), -1)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["error"] != "No audio file provided" {
		t.Errorf("Unexpected error body: %v", body)
	}
	if server.GetStats().Rejected != 1 {
		t.Errorf("Expected 1 rejected request, got %d", server.GetStats().Rejected)
	}
}

func TestProcessAudioLegacyShape(t *testing.T) {
	server := New(NewStaticTranslator([]string{"only.mp4"}, 1), testLogger(), Config{Legacy: true})

	resp, err := server.App().Test(uploadRequest(t, transport.FieldName, []byte("x")), -1)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	body := decode(t, resp)
	if _, ok := body["success"]; ok {
		t.Errorf("Expected legacy body without success flag, got %v", body)
	}
	if body["video_url"] != "only.mp4" {
		t.Errorf("Expected video_url only.mp4, got %v", body["video_url"])
	}
}

type failingTranslator struct{}

func (failingTranslator) Translate(ctx context.Context, audio []byte) ([]string, error) {
	return nil, io.ErrUnexpectedEOF
}

func TestProcessAudioTranslatorFailure(t *testing.T) {
	server := New(failingTranslator{}, testLogger(), Config{})

	resp, err := server.App().Test(uploadRequest(t, transport.FieldName, []byte("x")), -1)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	body := decode(t, resp)
	if body["success"] != false {
		t.Errorf("Expected success=false, got %v", body)
	}
	if server.GetStats().Failed != 1 {
		t.Errorf("Expected 1 failed translation, got %d", server.GetStats().Failed)
	}
}

func TestTransportClientAgainstBackend(t *testing.T) {
	tests := []struct {
		name    string
		legacy  bool
		perCall int
		want    []string
	}{
		{"current shape", false, 2, []string{"a.mp4", "b.mp4"}},
		{"repeated clips", false, 3, []string{"a.mp4", "b.mp4", "a.mp4"}},
		{"legacy shape", true, 2, []string{"a.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(NewStaticTranslator([]string{"a.mp4", "b.mp4"}, tt.perCall), testLogger(), Config{Legacy: tt.legacy})

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				t.Fatalf("Listen failed: %v", err)
			}
			go func() { _ = server.App().Listener(ln) }()
			defer server.Shutdown(context.Background())

			client, err := transport.NewClient(transport.Config{Endpoint: "http://" + ln.Addr().String() + "/process-audio"})
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			chunk := &audio.AudioChunk{Sequence: 0, MimeType: audio.MimeType, Data: []byte("opus")}
			result, err := client.Send(context.Background(), chunk)
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if got := result.Artifacts(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
