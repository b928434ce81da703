// Package audit records state-mutating actions. Inputs are hashed
// rather than stored verbatim so the trail proves what was submitted
// without retaining personal data.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"taskdesk/internal/models"
)

// Writer is the sink for audit entries, satisfied by the store.
type Writer interface {
	WriteAudit(ctx context.Context, e *models.AuditEntry) error
}

// Recorder hashes inputs and writes audit entries. Failures are logged
// and swallowed so auditing never blocks the mutation it describes.
type Recorder struct {
	w Writer
}

// NewRecorder creates a Recorder over the given sink.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

// HashInputs returns the hex SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		data = []byte("unencodable")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Record writes one entry for action with the given inputs and outcome.
func (r *Recorder) Record(ctx context.Context, action string, inputs any, outcome, taskID, details string) {
	if r == nil || r.w == nil {
		return
	}
	entry := &models.AuditEntry{
		Action:     action,
		InputsHash: HashInputs(inputs),
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
	}
	if err := r.w.WriteAudit(ctx, entry); err != nil {
		log.Printf("audit: write %s: %v", action, err)
	}
}
