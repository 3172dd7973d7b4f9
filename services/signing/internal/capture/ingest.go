package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
	"github.com/khalilayoub23/fastepost-signing/pkg/sigdigest"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/pdfgen"
)

// Ingest is the one-time intake step for the submitted source PDF: archive
// the original verbatim, stamp it with the tracking barcode and recent
// failed-attempt notes, and record the stamped result as both the base and
// the initial current revision.
func (s *Service) Ingest(ctx context.Context, deliveryID string, src []byte, filename string) (*domain.Delivery, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty source document", domain.ErrRegenerationFailure)
	}
	var out *domain.Delivery
	err := s.store.WithDelivery(ctx, deliveryID, func(tx Tx) error {
		d := tx.Delivery()
		if d.Status == domain.StatusCompleted {
			return domain.ErrDeliveryCompleted
		}
		if d.BaseDocID != "" {
			return domain.ErrAlreadyIngested
		}

		originalID, err := tx.PutDocument(ctx, src, filename, "application/pdf")
		if err != nil {
			return err
		}

		attempts, err := tx.RecentFailedAttempts(ctx, pdfgen.MaxAttemptNotes)
		if err != nil {
			return err
		}
		payload := pdfgen.BarcodePayload{
			CaseNumber: d.CaseNumber,
			DeliveryID: d.ID,
			CarrierID:  d.CarrierID,
			IssuedAt:   s.now().UTC(),
		}
		stamped, err := s.pipeline.Ingest(src, payload, attempts)
		if err != nil {
			return err
		}
		payloadHash, _, err := sigdigest.SumObject(payload)
		if err != nil {
			return err
		}

		baseID, err := tx.PutDocument(ctx, stamped, "base.pdf", "application/pdf")
		if err != nil {
			return err
		}
		currentID, err := tx.PutDocument(ctx, stamped, "current.pdf", "application/pdf")
		if err != nil {
			return err
		}
		if err := tx.SetIngestedDocs(ctx, originalID, baseID, currentID); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, domain.AuditEntry{
			Action: "document_ingested",
			Details: map[string]any{
				"original_doc_id": originalID,
				"base_doc_id":     baseID,
				"tracking_code":   pdfgen.TrackingCode(d.ID, d.CaseNumber),
				"barcode_sha256":  payloadHash,
			},
		}); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rebuild regenerates the current revision out of band (operator action,
// e.g. after restoring a corrupted blob). Unlike the rebuild inside Capture
// it writes a document_regenerated ledger entry, since it happens outside
// any signature event.
func (s *Service) Rebuild(ctx context.Context, deliveryID, actorID string) (*domain.Delivery, error) {
	var out *domain.Delivery
	err := s.store.WithDelivery(ctx, deliveryID, func(tx Tx) error {
		d := tx.Delivery()
		if d.Status == domain.StatusCompleted {
			return domain.ErrDeliveryCompleted
		}
		_, currentID, err := s.regenerate(ctx, tx, "", nil)
		if err != nil {
			return err
		}
		if _, err := tx.AppendLedger(ctx, domain.LedgerEntry{
			ActorID:  actorID,
			Kind:     domain.LedgerDocumentRegenerated,
			Metadata: map[string]any{"current_doc_id": currentID, "requested_at": s.now().UTC().Format(time.RFC3339)},
		}); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
