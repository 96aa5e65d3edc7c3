package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

// Actor identifies who performed an audited action.
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// AuditEvent is a single append-only entry in an entity's audit trail.
// PrevHash/Hash form a tamper-evident chain over the trail.
type AuditEvent struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Actor       Actor     `json:"actor"`
	Description string    `json:"description"`
	PrevHash    string    `json:"prev_hash,omitempty"`
	Hash        string    `json:"hash,omitempty"`
}

// NewEventID returns a lexicographically sortable event identifier, so a
// trail sorted by event ID is also sorted chronologically.
func NewEventID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at.UTC()), rand.Reader).String()
}

// AppendEvent chains ev onto trail and returns the extended trail. The input
// slice is never mutated in place beyond its length.
func AppendEvent(trail []AuditEvent, ev AuditEvent) []AuditEvent {
	if ev.EventID == "" {
		ev.EventID = NewEventID(ev.Timestamp)
	}
	if len(trail) > 0 {
		ev.PrevHash = trail[len(trail)-1].Hash
	}
	ev.Hash = eventHash(ev)
	out := make([]AuditEvent, 0, len(trail)+1)
	out = append(out, trail...)
	return append(out, ev)
}

// VerifyTrail checks the hash chain. It returns the index of the first
// corrupt entry, or -1 when the trail is intact.
func VerifyTrail(trail []AuditEvent) int {
	prev := ""
	for i, ev := range trail {
		if ev.PrevHash != prev {
			return i
		}
		if eventHash(ev) != ev.Hash {
			return i
		}
		prev = ev.Hash
	}
	return -1
}

func eventHash(ev AuditEvent) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s",
		ev.EventID, ev.Timestamp.UTC().UnixNano(), ev.EventType,
		ev.Actor.UserID, ev.Actor.Role, ev.Description, ev.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// AuditSeverity grades audit records.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Severity AuditSeverity
	Meta     map[string]any
	At       time.Time
}

// AuditPort is implemented by audit sinks. Services depend on the port so
// tests can swap in a recorder fake.
type AuditPort interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Severity == "" {
		log.Severity = SeverityLow
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, severity, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, string(log.Severity), metaJSON, log.At)
	return err
}
