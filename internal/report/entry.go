// Package report delivers access decisions to the build orchestrator. The
// durable sink is a hash-chained SQLite log: each report links to the hash
// of the previous one, so the orchestrator can verify after the fact that
// the observed access set was not truncated or rewritten.
package report

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// AccessRecord is the payload of one reported access decision.
type AccessRecord struct {
	PipID     string `json:"pip_id"`
	Pid       int    `json:"pid"`
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Scope     string `json:"scope,omitempty"`
	Allowed   bool   `json:"allowed"`
	Audit     bool   `json:"audit,omitempty"`
}

// TreeRecord is the payload of a pip-completion report: no further accesses
// will be attributed to the pip.
type TreeRecord struct {
	PipID   string `json:"pip_id"`
	RootPID int    `json:"root_pid"`
}

// EntryType identifies the kind of report entry.
type EntryType string

const (
	EntryAccess        EntryType = "access"
	EntryTreeCompleted EntryType = "tree_completed"
)

// Entry is a single hash-chained report entry.
type Entry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      EntryType `json:"type"`
	PrevHash  string    `json:"prev"`
	Data      any       `json:"data"`
	Hash      string    `json:"hash"`

	// dataJSON is the canonical JSON used for hashing, kept so verification
	// works after database round-trips where Data becomes map[string]any.
	dataJSON []byte
}

// NewEntry creates an entry with a computed hash.
func NewEntry(seq uint64, prevHash string, entryType EntryType, data any) (*Entry, error) {
	return newEntryWithTimestamp(seq, prevHash, entryType, data, time.Now().UTC())
}

func newEntryWithTimestamp(seq uint64, prevHash string, entryType EntryType, data any, ts time.Time) (*Entry, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Sequence:  seq,
		Timestamp: ts,
		Type:      entryType,
		PrevHash:  prevHash,
		Data:      data,
		dataJSON:  dataJSON,
	}
	e.Hash = e.computeHash()
	return e, nil
}

// computeHash calculates SHA-256(seq || ts || type || prev || data).
func (e *Entry) computeHash() string {
	h := sha256.New()

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, e.Sequence)
	h.Write(seqBytes)
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.PrevHash))
	h.Write(e.dataJSON)

	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHash recomputes the entry's hash and compares.
func (e *Entry) VerifyHash() bool {
	return e.computeHash() == e.Hash
}
