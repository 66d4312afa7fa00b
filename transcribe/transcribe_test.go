package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gurre/audio-pipeline/metrics"
)

func newProcessorAgainst(t *testing.T, handler http.HandlerFunc) (*WhisperProcessor, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := &WhisperProcessor{endpoint: srv.URL, client: srv.Client(), metrics: metrics.NewMetrics()}
	return p, srv.Close
}

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestProcessReturnsTranscriptAndSummary(t *testing.T) {
	p, closeFn := newProcessorAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript":"hello world","summary":"a greeting"}`))
	})
	defer closeFn()

	transcript, summary, err := p.Process(context.Background(), writeTempAudio(t))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if string(transcript) != "hello world" {
		t.Errorf("transcript = %q", transcript)
	}
	if string(summary) != "a greeting" {
		t.Errorf("summary = %q", summary)
	}
}

func TestProcessServerErrorIsTransient(t *testing.T) {
	p, closeFn := newProcessorAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer closeFn()

	_, _, err := p.Process(context.Background(), writeTempAudio(t))
	if err == nil {
		t.Fatal("expected an error")
	}
	tagged, ok := err.(interface{ Transient() bool })
	if !ok || !tagged.Transient() {
		t.Error("expected a transient-tagged error for a 5xx response")
	}
}

func TestProcessClientErrorIsFatal(t *testing.T) {
	p, closeFn := newProcessorAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer closeFn()

	_, _, err := p.Process(context.Background(), writeTempAudio(t))
	if err == nil {
		t.Fatal("expected an error")
	}
	tagged, ok := err.(interface{ Transient() bool })
	if !ok || tagged.Transient() {
		t.Error("expected a fatal-tagged error for a 4xx response")
	}
}

func TestProcessMissingEndpointIsFatal(t *testing.T) {
	p := NewWhisperProcessor(metrics.NewMetrics(), nil)
	p.endpoint = ""

	_, _, err := p.Process(context.Background(), writeTempAudio(t))
	if err == nil {
		t.Fatal("expected an error when no endpoint is configured")
	}
}
