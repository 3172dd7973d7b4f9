package capture

import (
	"context"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
)

// Verify is the read-only integrity check: it reports whether the digest in
// the delivery's signature map matches the newest signature_added ledger
// entry for (delivery, role). It does not re-hash stored image bytes; it
// detects divergence between the denormalized map and the append-only
// ledger.
func (s *Service) Verify(ctx context.Context, deliveryID, roleName string) (bool, error) {
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return false, err
	}
	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return false, err
	}
	slot := d.Signatures.Slot(role)
	if slot.SignatureHash == "" {
		return false, nil
	}
	entry, ok, err := s.store.LatestSignatureEntry(ctx, deliveryID, role)
	if err != nil {
		return false, err
	}
	if !ok || entry.SignatureHash == "" {
		return false, nil
	}
	return entry.SignatureHash == slot.SignatureHash, nil
}
