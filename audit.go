package ecgstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEntry is one operation record in the audit log
type AuditEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Op       string    `json:"op"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entityId"`
	Actor    string    `json:"actor,omitempty"`
}

// AuditLog records entity mutations as JSON lines, one file per UTC day,
// appended through the blob backend under logs/.
//
// Recording is fire-and-forget: a failed append is logged and dropped,
// never surfaced to the caller. Each entry carries its own id so gaps
// are detectable when reading back.
type AuditLog struct {
	backend Backend
	logger  Logger
}

// NewAuditLog creates an audit log over backend
func NewAuditLog(backend Backend, logger Logger) *AuditLog {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &AuditLog{backend: backend, logger: logger}
}

func auditKey(day time.Time) string {
	return fmt.Sprintf("logs/ops-%s.jsonl", day.UTC().Format("2006-01-02"))
}

// Record appends an entry to today's log file. Missing id and timestamp
// are filled in.
func (a *AuditLog) Record(ctx context.Context, e AuditEntry) {
	if a == nil {
		return
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		a.logger.Warn("audit encode failed", "op", e.Op, "entity", e.Entity, "error", err)
		return
	}
	line = append(line, '\n')

	if err := a.backend.Append(ctx, auditKey(e.At), line); err != nil {
		a.logger.Warn("audit append failed", "op", e.Op, "entity", e.Entity, "error", err)
	}
}

// ReadDay returns every entry recorded on the given UTC day, in append
// order. A day with no log file yields an empty slice. Unparseable
// lines are skipped.
func (a *AuditLog) ReadDay(ctx context.Context, day time.Time) ([]AuditEntry, error) {
	data, err := a.backend.Get(ctx, auditKey(day))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			a.logger.Warn("skipping corrupt audit line", "key", auditKey(day), "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read audit log: %v", ErrRepository, err)
	}
	return entries, nil
}
