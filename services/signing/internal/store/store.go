package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
	"github.com/khalilayoub23/fastepost-signing/pkg/sigdigest"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same row mapping helpers serve reads inside and outside the signing
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type User struct {
	UserID         string  `json:"user_id"`
	FullName       string  `json:"full_name"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	SignatureDocID *string `json:"signature_doc_id,omitempty"`
}

func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	if u.UserID == "" {
		u.UserID = "usr_" + uuid.NewString()
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO users(user_id,full_name,email,phone,signature_doc_id)
VALUES($1,$2,lower($3),$4,$5)
`, u.UserID, u.FullName, u.Email, u.Phone, u.SignatureDocID)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	var email, phone *string
	err := s.DB.QueryRow(ctx, `
SELECT user_id,full_name,email,phone,signature_doc_id FROM users WHERE user_id=$1
`, userID).Scan(&u.UserID, &u.FullName, &email, &phone, &u.SignatureDocID)
	if err != nil {
		return User{}, err
	}
	if email != nil {
		u.Email = *email
	}
	if phone != nil {
		u.Phone = *phone
	}
	return u, nil
}

// EnrollSignature attaches a reusable signature-on-file document to a user.
// Enrollment outside the finalize step is an out-of-band administrative
// action.
func (s *Store) EnrollSignature(ctx context.Context, userID, docID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE users SET signature_doc_id=$2 WHERE user_id=$1`, userID, docID)
	return err
}

// NewCaseNumber generates a human-readable case number. Case numbers are
// normalized to uppercase and unique; collisions surface as a constraint
// violation on insert.
func NewCaseNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("FE-%s-%s", now.UTC().Format("20060102"), suffix)
}

// CreateDelivery inserts the delivery in draft along with its three fixed
// signature slots.
func (s *Store) CreateDelivery(ctx context.Context, d *domain.Delivery) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = "dlv_" + uuid.NewString()
	}
	if d.CaseNumber == "" {
		d.CaseNumber = NewCaseNumber(time.Now())
	}
	d.CaseNumber = domain.NormalizeCaseNumber(d.CaseNumber)
	if d.Status == "" {
		d.Status = domain.StatusDraft
	}
	d.Signatures = domain.DefaultSignatureSet()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO deliveries(delivery_id,case_number,status,sender_id,courier_id,recipient_id,carrier_id)
VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''))
`, d.ID, d.CaseNumber, d.Status, d.SenderID, d.CourierID, d.RecipientID, d.CarrierID); err != nil {
		return err
	}
	for _, r := range domain.Roles() {
		slot := d.Signatures.Slot(r)
		if _, err := tx.Exec(ctx, `
INSERT INTO delivery_signatures(delivery_id,role,required) VALUES($1,$2,$3)
`, d.ID, string(r), slot.Required); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	d.CreatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	return loadDelivery(ctx, s.DB, deliveryID, false)
}

func (s *Store) GetDeliveryByCase(ctx context.Context, caseNumber string) (*domain.Delivery, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT delivery_id FROM deliveries WHERE case_number=$1`,
		domain.NormalizeCaseNumber(caseNumber)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}
	return s.GetDelivery(ctx, id)
}

// GetDeliveryByTracking resolves the plain-text fallback code
// DEL-<delivery_id>-<case_number> stamped alongside the barcode.
func (s *Store) GetDeliveryByTracking(ctx context.Context, code string) (*domain.Delivery, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
SELECT delivery_id FROM deliveries WHERE 'DEL-' || delivery_id || '-' || case_number = $1
`, strings.TrimSpace(code)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}
	return s.GetDelivery(ctx, id)
}

// LatestSignatureEntry returns the newest signature_added ledger entry for a
// (delivery, role) pair.
func (s *Store) LatestSignatureEntry(ctx context.Context, deliveryID string, role domain.Role) (domain.LedgerEntry, bool, error) {
	var e domain.LedgerEntry
	var actorID, sigHash, ip *string
	var meta []byte
	err := s.DB.QueryRow(ctx, `
SELECT entry_id,delivery_id,actor_id,role,kind,signature_hash,ip_address,metadata,created_at
FROM ledger_entries
WHERE delivery_id=$1 AND role=$2 AND kind='signature_added'
ORDER BY created_at DESC, entry_id DESC
LIMIT 1
`, deliveryID, string(role)).Scan(&e.ID, &e.DeliveryID, &actorID, &e.Role, &e.Kind, &sigHash, &ip, &meta, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerEntry{}, false, nil
		}
		return domain.LedgerEntry{}, false, err
	}
	if actorID != nil {
		e.ActorID = *actorID
	}
	if sigHash != nil {
		e.SignatureHash = *sigHash
	}
	if ip != nil {
		e.IPAddress = *ip
	}
	_ = json.Unmarshal(meta, &e.Metadata)
	return e, true, nil
}

func (s *Store) LedgerEntries(ctx context.Context, deliveryID string) ([]domain.LedgerEntry, error) {
	rows, err := s.DB.Query(ctx, `
SELECT entry_id,delivery_id,actor_id,role,kind,signature_hash,ip_address,metadata,created_at
FROM ledger_entries WHERE delivery_id=$1 ORDER BY created_at ASC, entry_id ASC
`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var actorID, role, sigHash, ip *string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.DeliveryID, &actorID, &role, &e.Kind, &sigHash, &ip, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			e.ActorID = *actorID
		}
		if role != nil {
			e.Role = domain.Role(*role)
		}
		if sigHash != nil {
			e.SignatureHash = *sigHash
		}
		if ip != nil {
			e.IPAddress = *ip
		}
		_ = json.Unmarshal(meta, &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateLedgerEntry and DeleteLedgerEntry exist so the append-only contract
// is explicit in code, not just in schema triggers. They fail unconditionally.
func (s *Store) UpdateLedgerEntry(context.Context, domain.LedgerEntry) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) DeleteLedgerEntry(context.Context, string) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	return appendAudit(ctx, s.DB, e)
}

func (s *Store) RecordFailedAttempt(ctx context.Context, a domain.FailedAttempt) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO failed_attempts(delivery_id,attempt_no,noted_at,location)
VALUES($1,$2,$3,$4)
`, a.DeliveryID, a.AttemptNo, a.NotedAt.UTC(), a.Location)
	return err
}

func (s *Store) RecentFailedAttempts(ctx context.Context, deliveryID string, limit int) ([]domain.FailedAttempt, error) {
	return recentFailedAttempts(ctx, s.DB, deliveryID, limit)
}

func appendAudit(ctx context.Context, q querier, e domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = "aud_" + uuid.NewString()
	}
	details, _ := json.Marshal(e.Details)
	_, err := q.Exec(ctx, `
INSERT INTO audit_log(audit_id,delivery_id,action,actor_id,details)
VALUES($1,$2,$3,NULLIF($4,''),$5::jsonb)
`, e.ID, e.DeliveryID, e.Action, e.ActorID, string(details))
	return err
}

func recentFailedAttempts(ctx context.Context, q querier, deliveryID string, limit int) ([]domain.FailedAttempt, error) {
	rows, err := q.Query(ctx, `
SELECT delivery_id,attempt_no,noted_at,location
FROM failed_attempts WHERE delivery_id=$1
ORDER BY noted_at DESC, id DESC LIMIT $2
`, deliveryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.FailedAttempt
	for rows.Next() {
		var a domain.FailedAttempt
		if err := rows.Scan(&a.DeliveryID, &a.AttemptNo, &a.NotedAt, &a.Location); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadDelivery(ctx context.Context, q querier, deliveryID string, forUpdate bool) (*domain.Delivery, error) {
	sql := `
SELECT delivery_id,case_number,status,sender_id,courier_id,recipient_id,
       COALESCE(carrier_id,''),original_doc_id,base_doc_id,current_doc_id,final_doc_id,
       completed_at,created_at
FROM deliveries WHERE delivery_id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var d domain.Delivery
	var original, base, current, final *string
	err := q.QueryRow(ctx, sql, deliveryID).Scan(
		&d.ID, &d.CaseNumber, &d.Status, &d.SenderID, &d.CourierID, &d.RecipientID,
		&d.CarrierID, &original, &base, &current, &final, &d.CompletedAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}
	if original != nil {
		d.OriginalDocID = *original
	}
	if base != nil {
		d.BaseDocID = *base
	}
	if current != nil {
		d.CurrentDocID = *current
	}
	if final != nil {
		d.FinalDocID = *final
	}

	rows, err := q.Query(ctx, `
SELECT role,required,signed,signed_at,signed_by,signature_hash,ip_address
FROM delivery_signatures WHERE delivery_id=$1
`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var sig domain.RoleSignature
		var signedBy, sigHash, ip *string
		if err := rows.Scan(&role, &sig.Required, &sig.Signed, &sig.SignedAt, &signedBy, &sigHash, &ip); err != nil {
			return nil, err
		}
		if signedBy != nil {
			sig.SignedBy = *signedBy
		}
		if sigHash != nil {
			sig.SignatureHash = *sigHash
		}
		if ip != nil {
			sig.IPAddress = *ip
		}
		if slot := d.Signatures.Slot(domain.Role(role)); slot != nil {
			*slot = sig
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}

func putDocument(ctx context.Context, q querier, b []byte, filename, contentType string) (string, error) {
	docID := "doc_" + uuid.NewString()
	_, err := q.Exec(ctx, `
INSERT INTO documents(doc_id,filename,content_type,bytes,sha256)
VALUES($1,$2,$3,$4,$5)
`, docID, filename, contentType, b, sigdigest.SumBytes(b))
	if err != nil {
		return "", err
	}
	return docID, nil
}

func getDocument(ctx context.Context, q querier, docID string) ([]byte, string, error) {
	var b []byte
	var ct string
	err := q.QueryRow(ctx, `SELECT bytes,content_type FROM documents WHERE doc_id=$1`, docID).Scan(&b, &ct)
	if err != nil {
		return nil, "", err
	}
	return b, ct, nil
}
