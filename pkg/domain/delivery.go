package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Status is the delivery lifecycle state. There is no backward transition.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusAwaitingSignatures Status = "awaiting_signatures"
	StatusPartiallySigned    Status = "partially_signed"
	StatusFullySigned        Status = "fully_signed"
	StatusCompleted          Status = "completed"
)

// RoleSignature is one slot of the per-role signature map. A slot is written
// at most once: re-signing is a hard error, never an overwrite.
type RoleSignature struct {
	Required      bool       `json:"required"`
	Signed        bool       `json:"signed"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	SignedBy      string     `json:"signed_by,omitempty"`
	SignatureHash string     `json:"signature_hash,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
}

// SignatureSet holds exactly one slot per role. Keeping it a fixed-shape
// struct rather than a map makes a missing or misspelled role key a
// compile-time concern.
type SignatureSet struct {
	Sender    RoleSignature `json:"sender"`
	Courier   RoleSignature `json:"courier"`
	Recipient RoleSignature `json:"recipient"`
}

func (s *SignatureSet) Slot(r Role) *RoleSignature {
	switch r {
	case RoleSender:
		return &s.Sender
	case RoleCourier:
		return &s.Courier
	case RoleRecipient:
		return &s.Recipient
	}
	return nil
}

// DefaultSignatureSet marks every role required per its RoleSpec.
func DefaultSignatureSet() SignatureSet {
	var s SignatureSet
	for _, r := range Roles() {
		s.Slot(r).Required = r.Spec().Required
	}
	return s
}

// Delivery is the unit of work: one courier case moving through the signing
// lifecycle. Participants are references, not embedded records. The four
// document references follow the revision chain original -> base -> current
// -> final.
type Delivery struct {
	ID         string `json:"delivery_id"`
	CaseNumber string `json:"case_number"`
	Status     Status `json:"status"`

	SenderID    string `json:"sender_id"`
	CourierID   string `json:"courier_id"`
	RecipientID string `json:"recipient_id"`
	CarrierID   string `json:"carrier_id,omitempty"`

	Signatures SignatureSet `json:"signatures"`

	OriginalDocID string `json:"original_doc_id,omitempty"`
	BaseDocID     string `json:"base_doc_id,omitempty"`
	CurrentDocID  string `json:"current_doc_id,omitempty"`
	FinalDocID    string `json:"final_doc_id,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NormalizeCaseNumber uppercases and trims a human-entered case number.
func NormalizeCaseNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate checks construction invariants: the three participants must be
// present and pairwise distinct.
func (d *Delivery) Validate() error {
	if d.SenderID == "" || d.CourierID == "" || d.RecipientID == "" {
		return ErrParticipantsNotDistinct
	}
	if d.SenderID == d.CourierID || d.SenderID == d.RecipientID || d.CourierID == d.RecipientID {
		return ErrParticipantsNotDistinct
	}
	return nil
}

// Participant returns the user bound to a role.
func (d *Delivery) Participant(r Role) string {
	switch r {
	case RoleSender:
		return d.SenderID
	case RoleCourier:
		return d.CourierID
	case RoleRecipient:
		return d.RecipientID
	}
	return ""
}

func (d *Delivery) RoleRequired(r Role) bool {
	slot := d.Signatures.Slot(r)
	return slot != nil && slot.Required
}

func (d *Delivery) RoleCompleted(r Role) bool {
	slot := d.Signatures.Slot(r)
	return slot != nil && slot.Signed
}

// OutstandingRoles lists required roles that have not signed yet, in
// canonical role order.
func (d *Delivery) OutstandingRoles() []Role {
	var out []Role
	for _, r := range Roles() {
		slot := d.Signatures.Slot(r)
		if slot.Required && !slot.Signed {
			out = append(out, r)
		}
	}
	return out
}

// TimelineEntry is one completed signature in the delivery's history.
type TimelineEntry struct {
	Role          Role      `json:"role"`
	SignedAt      time.Time `json:"signed_at"`
	SignedBy      string    `json:"signed_by"`
	SignatureHash string    `json:"signature_hash"`
}

// Timeline returns completed signatures sorted by capture time. Slots
// without a capture timestamp are excluded.
func (d *Delivery) Timeline() []TimelineEntry {
	var out []TimelineEntry
	for _, r := range Roles() {
		slot := d.Signatures.Slot(r)
		if !slot.Signed || slot.SignedAt == nil {
			continue
		}
		out = append(out, TimelineEntry{
			Role:          r,
			SignedAt:      *slot.SignedAt,
			SignedBy:      slot.SignedBy,
			SignatureHash: slot.SignatureHash,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignedAt.Before(out[j].SignedAt) })
	return out
}

// CompletionPercent is completed/required*100 rounded to two decimals, 0 when
// nothing is required.
func (d *Delivery) CompletionPercent() float64 {
	var required, completed int
	for _, r := range Roles() {
		slot := d.Signatures.Slot(r)
		if !slot.Required {
			continue
		}
		required++
		if slot.Signed {
			completed++
		}
	}
	if required == 0 {
		return 0
	}
	pct := float64(completed) / float64(required) * 100
	return math.Round(pct*100) / 100
}

// AllRequiredSigned reports whether every required role has signed.
func (d *Delivery) AllRequiredSigned() bool {
	for _, r := range Roles() {
		slot := d.Signatures.Slot(r)
		if slot.Required && !slot.Signed {
			return false
		}
	}
	return true
}

// MarkSigned writes a role's signature slot and recomputes the overall
// status. It refuses to touch a completed delivery and refuses to overwrite
// an existing signature.
func (d *Delivery) MarkSigned(r Role, sig RoleSignature) error {
	if !r.Valid() {
		return ErrUnknownRole
	}
	if d.Status == StatusCompleted {
		return ErrDeliveryCompleted
	}
	slot := d.Signatures.Slot(r)
	if slot.Signed {
		return ErrAlreadySigned
	}
	sig.Required = slot.Required
	sig.Signed = true
	*slot = sig
	if d.AllRequiredSigned() {
		d.Status = StatusFullySigned
	} else {
		d.Status = StatusPartiallySigned
	}
	return nil
}

// Complete transitions fully_signed to completed and stamps the completion
// timestamp. The transition is terminal.
func (d *Delivery) Complete(at time.Time) error {
	if d.Status == StatusCompleted {
		return ErrDeliveryCompleted
	}
	if !d.AllRequiredSigned() {
		return ErrNotFullySigned
	}
	at = at.UTC()
	d.Status = StatusCompleted
	d.CompletedAt = &at
	return nil
}
