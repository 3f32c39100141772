package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// Type is the kind of event emitted by a run.
type Type string

// Event types.
const (
	TypeProgress Type = "progress"
	TypeRecord   Type = "record"
	TypeFailure  Type = "failure"
	TypeDownload Type = "download"
	TypeTerminal Type = "terminal"
)

// Tag is the bracketed label of an event line.
type Tag string

// Event line tags.
const (
	TagAgent     Tag = "AGENT"
	TagGoal      Tag = "GOAL"
	TagPlan      Tag = "PLAN"
	TagExecute   Tag = "EXECUTE"
	TagFound     Tag = "FOUND"
	TagDuplicate Tag = "DUPLICATE"
	TagLowConf   Tag = "LOWCONF"
	TagSkip      Tag = "SKIP"
	TagError     Tag = "ERROR"
	TagRecovery  Tag = "RECOVERY"
	TagSave      Tag = "SAVE"
	TagDownload  Tag = "DOWNLOAD"
	TagComplete  Tag = "COMPLETE"
)

// Event is one entry of a run's ordered event log.
type Event struct {
	// Seq is the 1-based emission order within the run.
	Seq int64 `json:"seq"`
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte `json:"-"`
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time `json:"ts"`
	Type Type      `json:"type"`
	Tag  Tag       `json:"tag"`
	// Line is the human-readable message without the tag.
	Line string `json:"line"`
	// Site scopes the event to a domain when known.
	Site string `json:"site,omitempty"`
	// Record is set on TypeRecord events.
	Record *crawler.JobRecord `json:"record,omitempty"`
	// Status and Reason are set on TypeTerminal events.
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Filename is set on TypeDownload events.
	Filename string `json:"filename,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeProgress, TypeFailure:
	case TypeRecord:
		if e.Record == nil {
			return errors.New("record event requires a record")
		}
	case TypeDownload:
		if e.Filename == "" {
			return errors.New("download event requires a filename")
		}
	case TypeTerminal:
		if e.Status == "" {
			return errors.New("terminal event requires a status")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// String renders the tagged line, e.g. "[FOUND] Acme hiring -> https://...".
func (e Event) String() string {
	if e.Tag == "" {
		return e.Line
	}
	return "[" + string(e.Tag) + "] " + e.Line
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
