package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gurre/audio-pipeline/integration/mock"
	"github.com/gurre/audio-pipeline/oplog"
	"github.com/gurre/audio-pipeline/pipeline"
	"github.com/gurre/audio-pipeline/progress"
	"github.com/gurre/audio-pipeline/scanner"
	"github.com/gurre/audio-pipeline/workerpool"
)

// countingProcessor stands in for the external ProcessFile collaborator
// (section 1: "the HTTP handlers that merely forward audio to a
// transcription API" are out of scope). It deterministically derives a
// transcript and summary from the local file's contents so the test can
// assert on upload bodies.
type countingProcessor struct{}

func (countingProcessor) Process(ctx context.Context, localPath string) ([]byte, []byte, error) {
	base := filepath.Base(localPath)
	return []byte("transcript of " + base), []byte("summary of " + base), nil
}

func TestFullScanProcessUploadCycle(t *testing.T) {
	store := mock.NewMemoryStore()
	store.Put("b1", "a.mp3", []byte("audio-a"))
	store.Put("b1", "nested/b.wav", []byte("audio-b"))
	store.Put("b1", "a.txt", []byte("not audio, must be excluded"))
	store.Put("b2", "c.flac", []byte("audio-c"))

	prog := progress.NewMemoryStore()
	log := oplog.New(filepath.Join(t.TempDir(), "processing_log.json"))

	sc := scanner.New(store, prog, log, nil)
	pool := workerpool.New(log, nil, nil)

	cfg := pipeline.Config{
		MaxBatch:        scanner.MaxBatch,
		IdleScanDelay:   50 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		DownloadDir:     t.TempDir(),
	}
	p := pipeline.New(cfg, store, sc, prog, log, pool, nil, nil)

	if !p.StartScanning(countingProcessor{}) {
		t.Fatal("expected scanning to start")
	}

	deadline := time.After(3 * time.Second)
	for {
		if prog.Has("b1/a.mp3", progress.OpDownloaded) &&
			prog.Has("b1/nested/b.wav", progress.OpDownloaded) &&
			prog.Has("b2/c.flac", progress.OpDownloaded) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all files to be processed, log: %+v", log.Snapshot())
		case <-time.After(20 * time.Millisecond):
		}
	}

	p.StopScanning()

	for _, tc := range []struct {
		bucket, sourceKey string
	}{
		{"b1", "a.mp3"},
		{"b1", "nested/b.wav"},
		{"b2", "c.flac"},
	} {
		transcriptKey := scanner.TranscriptKeyOf(tc.sourceKey)
		summaryKey := scanner.SummaryKeyOf(tc.sourceKey)

		transcript, ok := store.Get(tc.bucket, transcriptKey)
		if !ok {
			t.Errorf("expected a transcript at %s/%s", tc.bucket, transcriptKey)
		} else if want := fmt.Sprintf("transcript of %s", filepath.Base(tc.sourceKey)); string(transcript) != want {
			t.Errorf("transcript = %q, want %q", transcript, want)
		}

		summary, ok := store.Get(tc.bucket, summaryKey)
		if !ok {
			t.Errorf("expected a summary at %s/%s", tc.bucket, summaryKey)
		} else if want := fmt.Sprintf("summary of %s", filepath.Base(tc.sourceKey)); string(summary) != want {
			t.Errorf("summary = %q, want %q", summary, want)
		}

		if !prog.Has(tc.bucket+"/"+transcriptKey, progress.OpUploaded) {
			t.Errorf("expected an uploaded record for %s/%s", tc.bucket, transcriptKey)
		}
		if !prog.Has(tc.bucket+"/"+summaryKey, progress.OpUploaded) {
			t.Errorf("expected an uploaded record for %s/%s", tc.bucket, summaryKey)
		}
	}

	if _, ok := store.Get("b1", "a.txt"); !ok {
		t.Error("non-audio file should be left untouched in the store")
	}
	if prog.Has("b1/a.txt", progress.OpDownloaded) {
		t.Error("non-audio file should never be scanned or recorded")
	}
}

// failingProcessor always returns a fatal error, exercising the scenario
// in section 8.4: ProcessFile fails, zero retries occur, and the
// downloaded record is never written so the file is eligible again.
type failingProcessor struct{}

func (failingProcessor) Process(ctx context.Context, localPath string) ([]byte, []byte, error) {
	return nil, nil, fmt.Errorf("ValueError: bad audio")
}

func TestFatalProcessingErrorLeavesFileUnrecorded(t *testing.T) {
	store := mock.NewMemoryStore()
	store.Put("b1", "bad.mp3", []byte("corrupt"))

	prog := progress.NewMemoryStore()
	log := oplog.New(filepath.Join(t.TempDir(), "processing_log.json"))
	sc := scanner.New(store, prog, log, nil)
	pool := workerpool.New(log, nil, nil)

	cfg := pipeline.Config{
		MaxBatch:        scanner.MaxBatch,
		IdleScanDelay:   50 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		DownloadDir:     t.TempDir(),
	}
	p := pipeline.New(cfg, store, sc, prog, log, pool, nil, nil)

	if !p.StartScanning(failingProcessor{}) {
		t.Fatal("expected scanning to start")
	}

	deadline := time.After(2 * time.Second)
	for {
		snap := log.Snapshot()
		found := false
		for _, entry := range snap.Current {
			if entry.Path == "b1/bad.mp3" && entry.Status == oplog.StatusFailed {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for failure, log: %+v", snap)
		case <-time.After(20 * time.Millisecond):
		}
	}

	p.StopScanning()

	if prog.Has("b1/bad.mp3", progress.OpDownloaded) {
		t.Error("a fatal processing error must not leave a downloaded record")
	}
}
