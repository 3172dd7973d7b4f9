package domain

import "time"

// LedgerKind classifies an integrity ledger entry.
type LedgerKind string

const (
	LedgerSignatureAdded      LedgerKind = "signature_added"
	LedgerDocumentRegenerated LedgerKind = "document_regenerated"
	LedgerDeliveryCompleted   LedgerKind = "delivery_completed"
)

// LedgerEntry is an append-only audit fact. Entries are immutable after
// creation; the store exposes no update or delete for them and the schema
// enforces the same with triggers. The delivery's signature map is a
// denormalized cache of these entries, never the other way around.
type LedgerEntry struct {
	ID            string         `json:"entry_id"`
	DeliveryID    string         `json:"delivery_id"`
	ActorID       string         `json:"actor_id,omitempty"`
	Role          Role           `json:"role,omitempty"`
	Kind          LedgerKind     `json:"kind"`
	SignatureHash string         `json:"signature_hash,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AuditEntry is the coarser operational trail (document ingestion, PDF
// regeneration, anomalies). Same append-only discipline as the ledger.
type AuditEntry struct {
	ID         string         `json:"audit_id"`
	DeliveryID string         `json:"delivery_id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FailedAttempt records an unsuccessful delivery attempt. The five most
// recent are stamped onto the working document as annotation lines.
type FailedAttempt struct {
	DeliveryID string    `json:"delivery_id"`
	AttemptNo  int       `json:"attempt_no"`
	NotedAt    time.Time `json:"noted_at"`
	Location   string    `json:"location"`
}
