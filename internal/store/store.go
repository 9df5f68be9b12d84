// Package store provides durable, crash-consistent persistence of the
// companion state.
//
// Two backends share one contract: FileStore writes a versioned JSON record
// with an atomic temp-file-then-rename replacement, and PostgresStore keeps
// snapshot rows behind a jackc/pgx connection pool. Both guarantee that an
// interrupted save leaves the previously durable record intact, and both fall
// back to a default state — with a diagnosable warning, never a crash — when
// the durable record is corrupt.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oakmund/sprout/internal/companion"
)

// SchemaVersion is the current durable record schema. Records with a higher
// version than this are treated as unreadable.
const SchemaVersion = 1

// Store is the durable persistence contract for companion state.
type Store interface {
	// Save durably writes state. When Save returns an error the previously
	// durable record is still intact and loadable.
	Save(ctx context.Context, state companion.State) error

	// Load reads the durable record. A missing record yields the default
	// state, not an error; a corrupt or schema-invalid record is logged and
	// also yields the default state. Errors are reserved for conditions where
	// no answer is possible at all (e.g., database unreachable).
	Load(ctx context.Context) (companion.State, error)

	// Reset destroys the durable record. Only invoked by explicit user action.
	Reset(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// record is the versioned on-disk / on-wire representation of a companion
// state. The required numeric fields are pointers so that a record missing
// them is distinguishable from one legitimately at zero; unknown future
// fields are ignored by the JSON decoder, keeping the format forward
// compatible.
type record struct {
	SchemaVersion int                 `json:"schema_version"`
	Level         *int                `json:"level"`
	XP            *int                `json:"xp"`
	Threshold     *int                `json:"xp_threshold"`
	Transcript    []companion.Message `json:"transcript"`
}

// encodeState marshals state as a versioned record.
func encodeState(state companion.State) ([]byte, error) {
	rec := record{
		SchemaVersion: SchemaVersion,
		Level:         &state.Level,
		XP:            &state.XP,
		Threshold:     &state.Threshold,
		Transcript:    state.Transcript,
	}
	if rec.Transcript == nil {
		rec.Transcript = []companion.Message{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: marshal record: %w", err)
	}
	return data, nil
}

// decodeState unmarshals and validates a versioned record. Any failure —
// malformed JSON, missing schema version, missing required fields, violated
// state invariants — is returned as an error so callers can fall back to the
// default state.
func decodeState(data []byte) (companion.State, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return companion.State{}, fmt.Errorf("store: unmarshal record: %w", err)
	}
	if rec.SchemaVersion == 0 {
		return companion.State{}, fmt.Errorf("store: record has no schema version")
	}
	if rec.SchemaVersion > SchemaVersion {
		return companion.State{}, fmt.Errorf("store: record schema version %d is newer than supported %d", rec.SchemaVersion, SchemaVersion)
	}
	if rec.Level == nil || rec.XP == nil || rec.Threshold == nil {
		return companion.State{}, fmt.Errorf("store: record is missing required fields")
	}

	state := companion.State{
		Level:      *rec.Level,
		XP:         *rec.XP,
		Threshold:  *rec.Threshold,
		Transcript: rec.Transcript,
	}
	if err := state.Validate(); err != nil {
		return companion.State{}, fmt.Errorf("store: record failed validation: %w", err)
	}
	return state, nil
}
