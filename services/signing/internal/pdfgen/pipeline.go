// Package pdfgen is the document pipeline: it stamps the incoming source PDF
// with the tracking barcode (ingest) and rebuilds the working revision from
// the base plus every captured signature mark (regenerate).
package pdfgen

import (
	"fmt"
	"sort"
	"time"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
)

// MaxAttemptNotes caps how many failed-attempt annotations are stamped.
const MaxAttemptNotes = 5

type Pipeline struct {
	r Renderer
}

func New(r Renderer) *Pipeline { return &Pipeline{r: r} }

// RoleOverlay is one signed role's mark: the signature image plus the data
// for the LOCK line binding the visual mark to the ledger.
type RoleOverlay struct {
	Role     domain.Role
	Image    []byte
	SignedAt time.Time
	ActorID  string
}

// Ingest stamps the submitted source PDF with the scannable code and the
// recent failed-attempt annotations. The result is archived as the base
// revision and becomes the initial current revision.
func (p *Pipeline) Ingest(src []byte, payload BarcodePayload, attempts []domain.FailedAttempt) ([]byte, error) {
	png, err := payload.QR()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRegenerationFailure, err)
	}
	out, err := p.r.StampImage(src, png, Position{Anchor: "tr", DX: -36, DY: -36}, 0.3)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRegenerationFailure, err)
	}
	out, err = p.stampAttempts(out, attempts)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Regenerate rebuilds the current revision from the base plus one overlay per
// signed role. Overlays are drawn in canonical role order, so the output does
// not depend on signing order; re-running with the same base and role set
// yields the same overlay structure (timestamp text aside). When complete,
// every page additionally gets the diagonal SIGNED watermark.
func (p *Pipeline) Regenerate(base []byte, overlays []RoleOverlay, complete bool, attempts []domain.FailedAttempt) ([]byte, error) {
	ordered := append([]RoleOverlay(nil), overlays...)
	order := map[domain.Role]int{}
	for i, r := range domain.Roles() {
		order[r] = i
	}
	sort.SliceStable(ordered, func(i, j int) bool { return order[ordered[i].Role] < order[ordered[j].Role] })

	out := base
	var err error
	for _, ov := range ordered {
		spec := ov.Role.Spec()
		pos := Position{Anchor: spec.Anchor, DX: spec.OffsetX, DY: spec.OffsetY}
		if out, err = p.r.StampImage(out, ov.Image, pos, 0.25); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrRegenerationFailure, ov.Role, err)
		}
		label := Position{Anchor: spec.Anchor, DX: spec.OffsetX, DY: spec.OffsetY + 58}
		if out, err = p.r.StampText(out, spec.Label, label, 9, "#000000"); err != nil {
			return nil, fmt.Errorf("%w: %s label: %v", domain.ErrRegenerationFailure, ov.Role, err)
		}
		lock := fmt.Sprintf("LOCK %s #%s", ov.SignedAt.UTC().Format(time.RFC3339), ov.ActorID)
		lockPos := Position{Anchor: spec.Anchor, DX: spec.OffsetX, DY: spec.OffsetY - 14}
		if out, err = p.r.StampText(out, lock, lockPos, 7, "#333333"); err != nil {
			return nil, fmt.Errorf("%w: %s lock line: %v", domain.ErrRegenerationFailure, ov.Role, err)
		}
	}
	if complete {
		if out, err = p.r.StampDiagonal(out, "SIGNED"); err != nil {
			return nil, fmt.Errorf("%w: watermark: %v", domain.ErrRegenerationFailure, err)
		}
	}
	return p.stampAttempts(out, attempts)
}

func (p *Pipeline) stampAttempts(doc []byte, attempts []domain.FailedAttempt) ([]byte, error) {
	if len(attempts) > MaxAttemptNotes {
		attempts = attempts[:MaxAttemptNotes]
	}
	out := doc
	var err error
	for i, a := range attempts {
		line := fmt.Sprintf("Attempt %d - %s - %s", a.AttemptNo, a.NotedAt.UTC().Format("2006-01-02 15:04"), a.Location)
		pos := Position{Anchor: "tl", DX: 36, DY: -36 - i*12}
		if out, err = p.r.StampText(out, line, pos, 7, "#990000"); err != nil {
			return nil, fmt.Errorf("%w: attempt note: %v", domain.ErrRegenerationFailure, err)
		}
	}
	return out, nil
}
