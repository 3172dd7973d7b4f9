// Package capture orchestrates the signing transaction: actor and role
// validation, signature hashing, the ledger append, document regeneration and
// the finalize step, all committed or rolled back as one unit.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
	"github.com/khalilayoub23/fastepost-signing/pkg/sigdigest"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/metrics"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/notify"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/pdfgen"
)

// Tx is the mutation surface of one signing transaction. The Postgres store
// implements it on a row-locked delivery.
type Tx interface {
	Delivery() *domain.Delivery
	UserSignatureDoc(ctx context.Context, userID string) ([]byte, bool, error)
	HasSignatureOnFile(ctx context.Context, userID string) (bool, error)
	EnrollSignature(ctx context.Context, userID, docID string) error
	SaveRoleCopy(ctx context.Context, role domain.Role, b []byte, contentType string) (string, error)
	RoleCopy(ctx context.Context, role domain.Role) ([]byte, bool, error)
	RoleCopyDocID(ctx context.Context, role domain.Role) (string, bool, error)
	MarkSigned(ctx context.Context, role domain.Role, sig domain.RoleSignature) error
	MarkCompleted(ctx context.Context, at time.Time, finalDocID string) error
	SetCurrentDoc(ctx context.Context, docID string) error
	SetIngestedDocs(ctx context.Context, originalID, baseID, currentID string) error
	AppendLedger(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error)
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
	PutDocument(ctx context.Context, b []byte, filename, contentType string) (string, error)
	GetDocument(ctx context.Context, docID string) ([]byte, string, error)
	RecentFailedAttempts(ctx context.Context, limit int) ([]domain.FailedAttempt, error)
}

// Store hands out signing transactions and read-only lookups.
type Store interface {
	WithDelivery(ctx context.Context, deliveryID string, fn func(tx Tx) error) error
	GetDelivery(ctx context.Context, deliveryID string) (*domain.Delivery, error)
	LatestSignatureEntry(ctx context.Context, deliveryID string, role domain.Role) (domain.LedgerEntry, bool, error)
}

// Queue is the asynchronous notification hand-off. It must never block.
type Queue interface {
	Queue(e notify.Event)
}

type Service struct {
	store    Store
	pipeline *pdfgen.Pipeline
	notify   Queue
	log      *slog.Logger
	now      func() time.Time
}

func New(st Store, pipeline *pdfgen.Pipeline, q Queue, log *slog.Logger) *Service {
	return &Service{store: st, pipeline: pipeline, notify: q, log: log, now: time.Now}
}

// Request is one signing attempt. SignatureImage carries the freshly drawn
// mark for the recipient role; courier and sender sign with their enrolled
// signature-on-file and leave it empty.
type Request struct {
	DeliveryID     string
	Role           string
	ActorID        string
	NetworkAddress string
	SignatureImage []byte
}

type Result struct {
	Delivery  *domain.Delivery
	Entry     domain.LedgerEntry
	Completed bool
}

// Capture runs one signing transaction. Preconditions are checked in order
// (unknown role, role mismatch, already signed, missing source) before any
// write; the signature-map update, ledger append, document regeneration and
// finalize then commit atomically. Notifications are queued after commit and
// never affect the outcome.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	started := s.now()
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		metrics.CaptureFailuresTotal.WithLabelValues("unknown_role").Inc()
		return Result{}, err
	}

	var res Result
	err = s.store.WithDelivery(ctx, req.DeliveryID, func(tx Tx) error {
		d := tx.Delivery()
		if d.Participant(role) != req.ActorID {
			return domain.ErrRoleMismatch
		}
		if d.RoleCompleted(role) {
			return domain.ErrAlreadySigned
		}

		sig, err := s.signatureBytes(ctx, tx, role, req)
		if err != nil {
			return err
		}
		digest := sigdigest.SumBytes(sig)

		if _, err := tx.SaveRoleCopy(ctx, role, sig, "image/png"); err != nil {
			return err
		}

		signedAt := s.now().UTC()
		if err := tx.MarkSigned(ctx, role, domain.RoleSignature{
			SignedAt:      &signedAt,
			SignedBy:      req.ActorID,
			SignatureHash: digest,
			IPAddress:     req.NetworkAddress,
		}); err != nil {
			return err
		}

		entry, err := tx.AppendLedger(ctx, domain.LedgerEntry{
			ActorID:       req.ActorID,
			Role:          role,
			Kind:          domain.LedgerSignatureAdded,
			SignatureHash: digest,
			IPAddress:     req.NetworkAddress,
		})
		if err != nil {
			return err
		}

		current, currentID, err := s.regenerate(ctx, tx, role, sig)
		if err != nil {
			return err
		}

		completed := false
		if d.AllRequiredSigned() {
			if err := s.finalize(ctx, tx, current, currentID, req); err != nil {
				return err
			}
			completed = true
		}

		res = Result{Delivery: d, Entry: entry, Completed: completed}
		return nil
	})
	if err != nil {
		metrics.CaptureFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return Result{}, err
	}

	metrics.SignaturesCapturedTotal.WithLabelValues(string(role)).Inc()
	metrics.CaptureDuration.Observe(s.now().Sub(started).Seconds())
	s.notify.Queue(notify.Event{Kind: notify.EventSignatureAdded, DeliveryID: req.DeliveryID})
	if res.Completed {
		metrics.DeliveriesCompletedTotal.Inc()
		s.notify.Queue(notify.Event{Kind: notify.EventDeliveryCompleted, DeliveryID: req.DeliveryID})
	}
	return res, nil
}

// signatureBytes obtains the image for the role being captured. The
// recipient signs fresh at the door; courier and sender use their enrolled
// signature-on-file.
func (s *Service) signatureBytes(ctx context.Context, tx Tx, role domain.Role, req Request) ([]byte, error) {
	if role == domain.RoleRecipient {
		if len(req.SignatureImage) == 0 {
			return nil, domain.ErrMissingSignatureSource
		}
		return req.SignatureImage, nil
	}
	b, ok, err := tx.UserSignatureDoc(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrMissingSignatureSource
	}
	return b, nil
}

// regenerate rebuilds the current revision from base plus every signed
// role's mark, and records the rebuild in the audit trail. It holds the same
// delivery lock as the rest of the transaction, so concurrent captures for
// other roles cannot clobber this overlay set.
func (s *Service) regenerate(ctx context.Context, tx Tx, captured domain.Role, capturedBytes []byte) ([]byte, string, error) {
	d := tx.Delivery()
	if d.BaseDocID == "" {
		return nil, "", fmt.Errorf("%w: no base revision ingested", domain.ErrRegenerationFailure)
	}
	base, _, err := tx.GetDocument(ctx, d.BaseDocID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: load base: %v", domain.ErrRegenerationFailure, err)
	}

	overlays, err := s.resolveOverlays(ctx, tx, captured, capturedBytes)
	if err != nil {
		return nil, "", err
	}
	attempts, err := tx.RecentFailedAttempts(ctx, pdfgen.MaxAttemptNotes)
	if err != nil {
		return nil, "", err
	}

	current, err := s.pipeline.Regenerate(base, overlays, d.AllRequiredSigned(), attempts)
	if err != nil {
		return nil, "", err
	}
	currentID, err := tx.PutDocument(ctx, current, "current.pdf", "application/pdf")
	if err != nil {
		return nil, "", err
	}
	if err := tx.SetCurrentDoc(ctx, currentID); err != nil {
		return nil, "", err
	}
	if err := tx.AppendAudit(ctx, domain.AuditEntry{
		Action:  "pdf_regenerated",
		Details: map[string]any{"current_doc_id": currentID, "roles": signedRoles(d)},
	}); err != nil {
		return nil, "", err
	}
	metrics.RegenerationsTotal.Inc()
	return current, currentID, nil
}

// resolveOverlays gathers signature bytes for every signed role: the bytes
// captured right now, else the stored role copy, else the signer's
// signature-on-file. A role that is marked signed but resolves nothing is a
// data-integrity anomaly: it is logged and audited, then skipped.
func (s *Service) resolveOverlays(ctx context.Context, tx Tx, captured domain.Role, capturedBytes []byte) ([]pdfgen.RoleOverlay, error) {
	d := tx.Delivery()
	var overlays []pdfgen.RoleOverlay
	for _, r := range domain.Roles() {
		slot := d.Signatures.Slot(r)
		if !slot.Signed {
			continue
		}
		var img []byte
		switch {
		case r == captured:
			img = capturedBytes
		default:
			b, ok, err := tx.RoleCopy(ctx, r)
			if err != nil {
				return nil, err
			}
			if !ok {
				signer := slot.SignedBy
				if signer == "" {
					signer = d.Participant(r)
				}
				b, ok, err = tx.UserSignatureDoc(ctx, signer)
				if err != nil {
					return nil, err
				}
				if !ok {
					s.log.Warn("signed role has no resolvable signature bytes",
						"delivery_id", d.ID, "role", r)
					if err := tx.AppendAudit(ctx, domain.AuditEntry{
						Action:  "signature_source_missing",
						Details: map[string]any{"role": string(r)},
					}); err != nil {
						return nil, err
					}
					continue
				}
			}
			img = b
		}
		var signedAt time.Time
		if slot.SignedAt != nil {
			signedAt = *slot.SignedAt
		}
		overlays = append(overlays, pdfgen.RoleOverlay{
			Role:     r,
			Image:    img,
			SignedAt: signedAt,
			ActorID:  slot.SignedBy,
		})
	}
	return overlays, nil
}

// finalize freezes the legal record: the current revision is copied verbatim
// to final, the delivery completes, the ledger records it, and the
// recipient's fresh signature becomes their signature-on-file if they have
// none.
func (s *Service) finalize(ctx context.Context, tx Tx, current []byte, currentID string, req Request) error {
	d := tx.Delivery()
	finalID, err := tx.PutDocument(ctx, current, "final.pdf", "application/pdf")
	if err != nil {
		return err
	}
	if err := tx.MarkCompleted(ctx, s.now(), finalID); err != nil {
		return err
	}
	if _, err := tx.AppendLedger(ctx, domain.LedgerEntry{
		ActorID:   req.ActorID,
		Kind:      domain.LedgerDeliveryCompleted,
		IPAddress: req.NetworkAddress,
		Metadata:  map[string]any{"final_doc_id": finalID, "current_doc_id": currentID},
	}); err != nil {
		return err
	}

	enrolled, err := tx.HasSignatureOnFile(ctx, d.RecipientID)
	if err != nil {
		return err
	}
	if !enrolled {
		if copyID, ok, err := tx.RoleCopyDocID(ctx, domain.RoleRecipient); err != nil {
			return err
		} else if ok {
			if err := tx.EnrollSignature(ctx, d.RecipientID, copyID); err != nil {
				return err
			}
		}
	}
	return nil
}

func signedRoles(d *domain.Delivery) []string {
	var out []string
	for _, r := range domain.Roles() {
		if d.RoleCompleted(r) {
			out = append(out, string(r))
		}
	}
	return out
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownRole):
		return "unknown_role"
	case errors.Is(err, domain.ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, domain.ErrAlreadySigned):
		return "already_signed"
	case errors.Is(err, domain.ErrMissingSignatureSource):
		return "missing_source"
	case errors.Is(err, domain.ErrRegenerationFailure):
		return "regeneration"
	case errors.Is(err, domain.ErrDeliveryNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
