// Package transcribe provides the one external-collaborator ProcessFile
// implementation this repo ships, per section 1's explicit carve-out:
// "the HTTP handlers that merely forward audio to a transcription API"
// are out of scope to re-implement. This package is a thin forwarder, not
// a transcription or summarization engine: it POSTs the audio bytes to an
// operator-configured HTTP endpoint and expects back a transcript and a
// summary, mirroring original_source's gemini transcriber/app.py pattern
// of shelling out to OpenAI/Gemini/Deepseek over HTTP.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gurre/audio-pipeline/metrics"
	"go.uber.org/zap"
)

// response is the JSON body the transcription endpoint is expected to
// return: a transcript and a summary, both plain text.
type response struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary"`
	Error      string `json:"error"`
}

// httpStatusError tags 4xx responses as fatal and 5xx/network errors as
// transient, satisfying workerpool.Transient so the pool's classifier does
// not have to guess from message text for this collaborator.
type httpStatusError struct {
	status    int
	transient bool
	msg       string
}

func (e *httpStatusError) Error() string   { return e.msg }
func (e *httpStatusError) Transient() bool { return e.transient }

// WhisperProcessor forwards audio files to a configured transcription
// endpoint. The name mirrors the original_source's choice of a
// Whisper/Gemini-style speech API as the external collaborator.
type WhisperProcessor struct {
	endpoint string
	client   *http.Client
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWhisperProcessor creates a WhisperProcessor reading its endpoint from
// the TRANSCRIBE_ENDPOINT environment variable. An empty endpoint means
// every call fails fatally, which is appropriate for a deployment that has
// not configured its external collaborator yet.
func NewWhisperProcessor(m *metrics.Metrics, logger *zap.Logger) *WhisperProcessor {
	return &WhisperProcessor{
		endpoint: os.Getenv("TRANSCRIBE_ENDPOINT"),
		client:   &http.Client{Timeout: 10 * time.Minute},
		metrics:  m,
		logger:   logger,
	}
}

// Process implements pipeline.ProcessFile: it uploads localPath's bytes to
// the configured endpoint and returns the transcript and summary bodies.
func (p *WhisperProcessor) Process(ctx context.Context, localPath string) ([]byte, []byte, error) {
	if p.endpoint == "" {
		return nil, nil, &httpStatusError{msg: "TRANSCRIBE_ENDPOINT is not configured", transient: false}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	p.metrics.RecordBytesDownloaded(info.Size())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = info.Size()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, &httpStatusError{msg: fmt.Sprintf("transcription request failed: %v", err), transient: true}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &httpStatusError{msg: fmt.Sprintf("failed to read transcription response: %v", err), transient: true}
	}

	if resp.StatusCode >= 500 {
		return nil, nil, &httpStatusError{status: resp.StatusCode, msg: fmt.Sprintf("transcription service returned %d", resp.StatusCode), transient: true}
	}
	if resp.StatusCode >= 400 {
		return nil, nil, &httpStatusError{status: resp.StatusCode, msg: fmt.Sprintf("transcription request rejected: %d", resp.StatusCode), transient: false}
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}
	if parsed.Error != "" {
		return nil, nil, fmt.Errorf("transcription service error: %s", parsed.Error)
	}

	transcript := []byte(parsed.Transcript)
	summary := []byte(parsed.Summary)
	p.metrics.RecordBytesUploaded(int64(len(transcript) + len(summary)))

	if p.logger != nil {
		p.logger.Debug("processed file", zap.String("path", localPath), zap.Int("transcript_bytes", len(transcript)), zap.Int("summary_bytes", len(summary)))
	}

	return transcript, bytes.TrimSpace(summary), nil
}
