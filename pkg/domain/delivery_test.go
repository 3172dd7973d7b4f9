package domain

import (
	"testing"
	"time"
)

func newTestDelivery() *Delivery {
	return &Delivery{
		ID:          "dlv_1",
		CaseNumber:  "FE-20260901-ABCD1234",
		Status:      StatusAwaitingSignatures,
		SenderID:    "usr_s",
		CourierID:   "usr_c",
		RecipientID: "usr_r",
		Signatures:  DefaultSignatureSet(),
	}
}

func TestValidateRejectsSharedParticipants(t *testing.T) {
	d := newTestDelivery()
	if err := d.Validate(); err != nil {
		t.Fatalf("distinct participants rejected: %v", err)
	}
	d.CourierID = d.SenderID
	if err := d.Validate(); err != ErrParticipantsNotDistinct {
		t.Fatalf("expected ErrParticipantsNotDistinct, got %v", err)
	}
	d = newTestDelivery()
	d.RecipientID = ""
	if err := d.Validate(); err != ErrParticipantsNotDistinct {
		t.Fatalf("expected ErrParticipantsNotDistinct for empty id, got %v", err)
	}
}

func TestMarkSignedStatusProgression(t *testing.T) {
	d := newTestDelivery()
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	if err := d.MarkSigned(RoleSender, RoleSignature{SignedAt: &at, SignedBy: "usr_s"}); err != nil {
		t.Fatalf("sender sign: %v", err)
	}
	if d.Status != StatusPartiallySigned {
		t.Fatalf("after one signature expected partially_signed, got %s", d.Status)
	}
	if err := d.MarkSigned(RoleCourier, RoleSignature{SignedAt: &at, SignedBy: "usr_c"}); err != nil {
		t.Fatalf("courier sign: %v", err)
	}
	if d.Status != StatusPartiallySigned {
		t.Fatalf("after two signatures expected partially_signed, got %s", d.Status)
	}
	if err := d.MarkSigned(RoleRecipient, RoleSignature{SignedAt: &at, SignedBy: "usr_r"}); err != nil {
		t.Fatalf("recipient sign: %v", err)
	}
	if d.Status != StatusFullySigned {
		t.Fatalf("after all signatures expected fully_signed, got %s", d.Status)
	}
}

func TestMarkSignedRefusesSecondWrite(t *testing.T) {
	d := newTestDelivery()
	at := time.Now().UTC()
	if err := d.MarkSigned(RoleCourier, RoleSignature{SignedAt: &at, SignedBy: "usr_c", SignatureHash: "h1"}); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if err := d.MarkSigned(RoleCourier, RoleSignature{SignedAt: &at, SignedBy: "usr_c", SignatureHash: "h2"}); err != ErrAlreadySigned {
		t.Fatalf("expected ErrAlreadySigned, got %v", err)
	}
	if d.Signatures.Courier.SignatureHash != "h1" {
		t.Fatalf("slot overwritten: %q", d.Signatures.Courier.SignatureHash)
	}
}

func TestMarkSignedUnknownRoleAndCompleted(t *testing.T) {
	d := newTestDelivery()
	if err := d.MarkSigned(Role("witness"), RoleSignature{}); err != ErrUnknownRole {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	d.Status = StatusCompleted
	if err := d.MarkSigned(RoleSender, RoleSignature{}); err != ErrDeliveryCompleted {
		t.Fatalf("expected ErrDeliveryCompleted, got %v", err)
	}
}

func TestCompleteGuards(t *testing.T) {
	d := newTestDelivery()
	if err := d.Complete(time.Now()); err != ErrNotFullySigned {
		t.Fatalf("expected ErrNotFullySigned, got %v", err)
	}
	at := time.Now().UTC()
	for _, r := range Roles() {
		if err := d.MarkSigned(r, RoleSignature{SignedAt: &at, SignedBy: d.Participant(r)}); err != nil {
			t.Fatalf("sign %s: %v", r, err)
		}
	}
	done := time.Date(2026, 9, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	if err := d.Complete(done); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if d.Status != StatusCompleted || d.CompletedAt == nil {
		t.Fatalf("bad completed state: %s %v", d.Status, d.CompletedAt)
	}
	if d.CompletedAt.Location() != time.UTC {
		t.Fatalf("completion timestamp not UTC: %v", d.CompletedAt)
	}
	if err := d.Complete(time.Now()); err != ErrDeliveryCompleted {
		t.Fatalf("expected ErrDeliveryCompleted on re-complete, got %v", err)
	}
}

func TestTimelineSortsByCaptureTime(t *testing.T) {
	d := newTestDelivery()
	t1 := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Minute)
	// Recipient signed first, sender second, courier has no timestamp.
	d.Signatures.Recipient = RoleSignature{Required: true, Signed: true, SignedAt: &t1, SignedBy: "usr_r"}
	d.Signatures.Sender = RoleSignature{Required: true, Signed: true, SignedAt: &t2, SignedBy: "usr_s"}
	d.Signatures.Courier = RoleSignature{Required: true, Signed: true}

	tl := d.Timeline()
	if len(tl) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(tl))
	}
	if tl[0].Role != RoleRecipient || tl[1].Role != RoleSender {
		t.Fatalf("wrong order: %s then %s", tl[0].Role, tl[1].Role)
	}
}

func TestCompletionPercent(t *testing.T) {
	d := newTestDelivery()
	if got := d.CompletionPercent(); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	at := time.Now().UTC()
	if err := d.MarkSigned(RoleSender, RoleSignature{SignedAt: &at}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := d.CompletionPercent(); got != 33.33 {
		t.Fatalf("expected 33.33, got %v", got)
	}
	if err := d.MarkSigned(RoleCourier, RoleSignature{SignedAt: &at}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := d.CompletionPercent(); got != 66.67 {
		t.Fatalf("expected 66.67, got %v", got)
	}

	var none Delivery
	if got := none.CompletionPercent(); got != 0 {
		t.Fatalf("expected 0 with nothing required, got %v", got)
	}
}

func TestOutstandingRolesCanonicalOrder(t *testing.T) {
	d := newTestDelivery()
	at := time.Now().UTC()
	if err := d.MarkSigned(RoleCourier, RoleSignature{SignedAt: &at}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	out := d.OutstandingRoles()
	if len(out) != 2 || out[0] != RoleSender || out[1] != RoleRecipient {
		t.Fatalf("unexpected outstanding roles: %v", out)
	}
}

func TestNormalizeCaseNumber(t *testing.T) {
	if got := NormalizeCaseNumber("  fe-20260901-abcd1234 "); got != "FE-20260901-ABCD1234" {
		t.Fatalf("got %q", got)
	}
}
