package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
)

// WithDelivery runs fn inside one transaction holding a row lock on the
// delivery. This is the unit of concurrency for signing: two captures for the
// same delivery serialize here, so the already-signed check, the ledger
// append and the document regeneration cannot interleave. fn returning an
// error rolls everything back.
func (s *Store) WithDelivery(ctx context.Context, deliveryID string, fn func(tx *DeliveryTx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	d, err := loadDelivery(ctx, tx, deliveryID, true)
	if err != nil {
		return err
	}
	dtx := &DeliveryTx{tx: tx, d: d}
	if err := fn(dtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeliveryTx exposes the mutations of one signing transaction. All writes go
// through the held pgx transaction; nothing is visible until commit.
type DeliveryTx struct {
	tx pgx.Tx
	d  *domain.Delivery
}

// Delivery is the row-locked snapshot loaded at transaction start. MarkSigned
// and MarkCompleted keep it in sync with the database writes.
func (t *DeliveryTx) Delivery() *domain.Delivery { return t.d }

// UserSignatureDoc loads a user's enrolled signature-on-file bytes.
func (t *DeliveryTx) UserSignatureDoc(ctx context.Context, userID string) ([]byte, bool, error) {
	var b []byte
	err := t.tx.QueryRow(ctx, `
SELECT d.bytes FROM users u JOIN documents d ON d.doc_id=u.signature_doc_id
WHERE u.user_id=$1
`, userID).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// HasSignatureOnFile reports whether the user already has an enrolled
// signature document.
func (t *DeliveryTx) HasSignatureOnFile(ctx context.Context, userID string) (bool, error) {
	var docID *string
	err := t.tx.QueryRow(ctx, `SELECT signature_doc_id FROM users WHERE user_id=$1`, userID).Scan(&docID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return docID != nil, nil
}

// EnrollSignature attaches a signature-on-file document to a user if none is
// enrolled yet.
func (t *DeliveryTx) EnrollSignature(ctx context.Context, userID, docID string) error {
	_, err := t.tx.Exec(ctx, `
UPDATE users SET signature_doc_id=$2 WHERE user_id=$1 AND signature_doc_id IS NULL
`, userID, docID)
	return err
}

// SaveRoleCopy persists the independent per-role signature copy so
// regeneration can always recover the mark.
func (t *DeliveryTx) SaveRoleCopy(ctx context.Context, role domain.Role, b []byte, contentType string) (string, error) {
	docID, err := putDocument(ctx, t.tx, b, string(role)+"-signature.png", contentType)
	if err != nil {
		return "", err
	}
	_, err = t.tx.Exec(ctx, `
UPDATE delivery_signatures SET copy_doc_id=$3 WHERE delivery_id=$1 AND role=$2
`, t.d.ID, string(role), docID)
	return docID, err
}

// RoleCopyDocID returns the document handle of a role's stored signature
// copy, if any.
func (t *DeliveryTx) RoleCopyDocID(ctx context.Context, role domain.Role) (string, bool, error) {
	var docID *string
	err := t.tx.QueryRow(ctx, `
SELECT copy_doc_id FROM delivery_signatures WHERE delivery_id=$1 AND role=$2
`, t.d.ID, string(role)).Scan(&docID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if docID == nil {
		return "", false, nil
	}
	return *docID, true, nil
}

// SetIngestedDocs records the revision chain produced by document ingestion:
// the original as submitted, the stamped base, and the initial current
// revision. A draft delivery moves to awaiting_signatures.
func (t *DeliveryTx) SetIngestedDocs(ctx context.Context, originalID, baseID, currentID string) error {
	t.d.OriginalDocID = originalID
	t.d.BaseDocID = baseID
	t.d.CurrentDocID = currentID
	if t.d.Status == domain.StatusDraft {
		t.d.Status = domain.StatusAwaitingSignatures
	}
	_, err := t.tx.Exec(ctx, `
UPDATE deliveries SET original_doc_id=$2, base_doc_id=$3, current_doc_id=$4, status=$5
WHERE delivery_id=$1
`, t.d.ID, originalID, baseID, currentID, t.d.Status)
	return err
}

// RoleCopy loads a role's stored signature copy, if any.
func (t *DeliveryTx) RoleCopy(ctx context.Context, role domain.Role) ([]byte, bool, error) {
	var b []byte
	err := t.tx.QueryRow(ctx, `
SELECT d.bytes FROM delivery_signatures s JOIN documents d ON d.doc_id=s.copy_doc_id
WHERE s.delivery_id=$1 AND s.role=$2
`, t.d.ID, string(role)).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// MarkSigned applies the state machine transition and persists the slot and
// the recomputed delivery status.
func (t *DeliveryTx) MarkSigned(ctx context.Context, role domain.Role, sig domain.RoleSignature) error {
	if err := t.d.MarkSigned(role, sig); err != nil {
		return err
	}
	slot := t.d.Signatures.Slot(role)
	if _, err := t.tx.Exec(ctx, `
UPDATE delivery_signatures
SET signed=true, signed_at=$3, signed_by=$4, signature_hash=$5, ip_address=$6
WHERE delivery_id=$1 AND role=$2
`, t.d.ID, string(role), slot.SignedAt, slot.SignedBy, slot.SignatureHash, slot.IPAddress); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE deliveries SET status=$2 WHERE delivery_id=$1`, t.d.ID, t.d.Status)
	return err
}

// MarkCompleted freezes the delivery: terminal status, completion timestamp,
// final revision reference.
func (t *DeliveryTx) MarkCompleted(ctx context.Context, at time.Time, finalDocID string) error {
	if err := t.d.Complete(at); err != nil {
		return err
	}
	t.d.FinalDocID = finalDocID
	_, err := t.tx.Exec(ctx, `
UPDATE deliveries SET status=$2, completed_at=$3, final_doc_id=$4 WHERE delivery_id=$1
`, t.d.ID, t.d.Status, t.d.CompletedAt, finalDocID)
	return err
}

// SetCurrentDoc points the delivery at a freshly regenerated working
// revision.
func (t *DeliveryTx) SetCurrentDoc(ctx context.Context, docID string) error {
	t.d.CurrentDocID = docID
	_, err := t.tx.Exec(ctx, `UPDATE deliveries SET current_doc_id=$2 WHERE delivery_id=$1`, t.d.ID, docID)
	return err
}

// AppendLedger writes one immutable ledger entry within the transaction.
func (t *DeliveryTx) AppendLedger(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = "led_" + uuid.NewString()
	}
	if e.DeliveryID == "" {
		e.DeliveryID = t.d.ID
	}
	meta, _ := json.Marshal(e.Metadata)
	err := t.tx.QueryRow(ctx, `
INSERT INTO ledger_entries(entry_id,delivery_id,actor_id,role,kind,signature_hash,ip_address,metadata)
VALUES($1,$2,NULLIF($3,''),NULLIF($4,''),$5,NULLIF($6,''),NULLIF($7,''),$8::jsonb)
RETURNING created_at
`, e.ID, e.DeliveryID, e.ActorID, string(e.Role), string(e.Kind), e.SignatureHash, e.IPAddress, string(meta)).Scan(&e.CreatedAt)
	return e, err
}

func (t *DeliveryTx) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.DeliveryID == "" {
		e.DeliveryID = t.d.ID
	}
	return appendAudit(ctx, t.tx, e)
}

func (t *DeliveryTx) PutDocument(ctx context.Context, b []byte, filename, contentType string) (string, error) {
	return putDocument(ctx, t.tx, b, filename, contentType)
}

func (t *DeliveryTx) GetDocument(ctx context.Context, docID string) ([]byte, string, error) {
	return getDocument(ctx, t.tx, docID)
}

func (t *DeliveryTx) RecentFailedAttempts(ctx context.Context, limit int) ([]domain.FailedAttempt, error) {
	return recentFailedAttempts(ctx, t.tx, t.d.ID, limit)
}
