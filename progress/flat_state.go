package progress

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/gurre/audio-pipeline/scanner"
)

// FlatState is the legacy flat ProcessingState shape from section 3:
// bucket -> key -> {transcribed, summarized}. summarized implies
// transcribed; an absent entry is equivalent to {false, false}.
type FlatState map[string]map[string]FlatEntry

// FlatEntry is a single file's flags in the flat legacy schema.
type FlatEntry struct {
	Transcribed bool `json:"transcribed"`
	Summarized  bool `json:"summarized"`
}

// DecodeFlatState parses a legacy processed_files.json payload shaped per
// section 6 ({bucket: {key: {transcribed, summarized}}}).
func DecodeFlatState(data []byte) (FlatState, error) {
	var state FlatState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// MigrateFlatState converts a legacy flat state into (path, operation)
// rows and records them against dst, per the canonical-schema decision:
// the (path, operation) form is primary, and the flat form is only ever a
// read-time migration source. transcribed implies a "downloaded" record
// (the file was fetched and processed); summarized additionally implies
// an "uploaded" record for the derived summary key, consistent with
// summarized ⇒ transcribed.
func MigrateFlatState(state FlatState, dst Store) error {
	ctx := context.Background()
	for bucket, keys := range state {
		for k, entry := range keys {
			path := bucket + "/" + k
			if entry.Transcribed {
				if err := dst.Record(ctx, path, OpDownloaded, ""); err != nil {
					return err
				}
			}
			if entry.Summarized {
				summaryPath := bucket + "/" + scanner.SummaryKeyOf(k)
				if err := dst.Record(ctx, summaryPath, OpUploaded, ""); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
