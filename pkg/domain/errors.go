package domain

import "errors"

var (
	// ErrUnknownRole rejects role strings outside the closed enum.
	ErrUnknownRole = errors.New("unknown signing role")

	// ErrRoleMismatch rejects an actor who is not the participant bound to
	// the role being signed. Surfaced as an authorization failure.
	ErrRoleMismatch = errors.New("actor is not bound to this role")

	// ErrAlreadySigned rejects a second capture for a role. Expected on
	// double submits; a domain error, not a system fault.
	ErrAlreadySigned = errors.New("role already signed")

	// ErrMissingSignatureSource means no signature bytes could be obtained:
	// the recipient payload is absent, or the courier/sender has no
	// signature on file.
	ErrMissingSignatureSource = errors.New("no signature source available")

	// ErrRegenerationFailure wraps a PDF pipeline failure. The signing
	// transaction rolls back: the working document must always reflect the
	// ledger.
	ErrRegenerationFailure = errors.New("document regeneration failed")

	// ErrTokenInvalid is the single rejection for capability tokens that
	// fail the signature check or are expired. The two cases are not
	// distinguished to the caller.
	ErrTokenInvalid = errors.New("capability token invalid")

	// ErrLedgerImmutable guards ledger and audit entries against update or
	// delete. Hitting it is a programmer error.
	ErrLedgerImmutable = errors.New("ledger entries are immutable")

	// ErrDeliveryCompleted rejects signature mutation on a completed
	// delivery.
	ErrDeliveryCompleted = errors.New("delivery already completed")

	// ErrAlreadyIngested rejects a second source document for a delivery.
	// Ingestion is one-shot: replacing the base after signatures exist
	// would strip their overlays from the current revision while the
	// ledger still records them.
	ErrAlreadyIngested = errors.New("source document already ingested")

	// ErrParticipantsNotDistinct rejects a delivery whose sender, courier
	// and recipient are not three distinct identities.
	ErrParticipantsNotDistinct = errors.New("sender, courier and recipient must be distinct")

	// ErrNotFullySigned rejects completion while required signatures are
	// outstanding.
	ErrNotFullySigned = errors.New("required signatures outstanding")

	ErrDeliveryNotFound = errors.New("delivery not found")
)
