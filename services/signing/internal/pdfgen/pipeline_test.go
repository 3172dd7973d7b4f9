package pdfgen

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
)

// opRenderer records stamp operations as text lines appended to the document,
// so tests can assert on the exact stamping sequence without a PDF engine.
type opRenderer struct {
	failOn string
}

func (r *opRenderer) op(doc []byte, line string) ([]byte, error) {
	if r.failOn != "" && strings.Contains(line, r.failOn) {
		return nil, errors.New("stamp rejected")
	}
	return append(append([]byte(nil), doc...), []byte(line+"\n")...), nil
}

func (r *opRenderer) StampImage(doc, png []byte, pos Position, scale float64) ([]byte, error) {
	return r.op(doc, fmt.Sprintf("image %s %d %d %.2f len=%d", pos.Anchor, pos.DX, pos.DY, scale, len(png)))
}

func (r *opRenderer) StampText(doc []byte, text string, pos Position, points int, color string) ([]byte, error) {
	return r.op(doc, fmt.Sprintf("text %s %d %d %dpt %s %q", pos.Anchor, pos.DX, pos.DY, points, color, text))
}

func (r *opRenderer) StampDiagonal(doc []byte, text string) ([]byte, error) {
	return r.op(doc, fmt.Sprintf("diagonal %q", text))
}

func ops(doc []byte) []string {
	return strings.Split(strings.TrimSuffix(string(doc), "\n"), "\n")
}

func overlay(role domain.Role, actor string, at time.Time) RoleOverlay {
	return RoleOverlay{Role: role, Image: []byte("png-" + string(role)), SignedAt: at, ActorID: actor}
}

func TestIngestStampsBarcodeThenAttempts(t *testing.T) {
	p := New(&opRenderer{})
	attempts := []domain.FailedAttempt{
		{AttemptNo: 1, NotedAt: time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), Location: "front door"},
		{AttemptNo: 2, NotedAt: time.Date(2026, 8, 31, 9, 15, 0, 0, time.UTC), Location: "reception"},
	}
	out, err := p.Ingest([]byte("base\n"), BarcodePayload{CaseNumber: "FE-1", DeliveryID: "dlv_1"}, attempts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	lines := ops(out)
	if len(lines) != 4 {
		t.Fatalf("expected base + 3 stamps, got %d: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[1], "image tr -36 -36 0.30") {
		t.Fatalf("barcode stamp wrong: %s", lines[1])
	}
	if !strings.Contains(lines[2], `"Attempt 1 - 2026-08-30 14:00 - front door"`) {
		t.Fatalf("attempt note wrong: %s", lines[2])
	}
	if !strings.Contains(lines[3], "tl 36 -48") {
		t.Fatalf("second attempt note not offset: %s", lines[3])
	}
}

func TestRegenerateOrdersOverlaysCanonically(t *testing.T) {
	p := New(&opRenderer{})
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	// Signing order recipient, sender; output must be sender then recipient.
	out, err := p.Regenerate([]byte("base\n"), []RoleOverlay{
		overlay(domain.RoleRecipient, "usr_r", at),
		overlay(domain.RoleSender, "usr_s", at),
	}, false, nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	lines := ops(out)
	// base + 2 overlays x (image, label, lock line)
	if len(lines) != 7 {
		t.Fatalf("expected 7 lines, got %d: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[1], "image bl 40 90") || !strings.Contains(lines[2], "Remitente / Sender") {
		t.Fatalf("sender overlay not first: %v", lines[1:4])
	}
	if !strings.HasPrefix(lines[4], "image br -40 90") || !strings.Contains(lines[5], "Destinatario / Recipient") {
		t.Fatalf("recipient overlay not second: %v", lines[4:7])
	}
	if !strings.Contains(lines[3], `"LOCK 2026-09-01T10:00:00Z #usr_s"`) {
		t.Fatalf("missing lock line: %s", lines[3])
	}

	// Same set in the opposite order produces identical output.
	out2, err := p.Regenerate([]byte("base\n"), []RoleOverlay{
		overlay(domain.RoleSender, "usr_s", at),
		overlay(domain.RoleRecipient, "usr_r", at),
	}, false, nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if string(out) != string(out2) {
		t.Fatalf("output depends on signing order:\n%s\nvs\n%s", out, out2)
	}
}

func TestRegenerateStampsWatermarkOnlyWhenComplete(t *testing.T) {
	p := New(&opRenderer{})
	at := time.Now().UTC()
	partial, err := p.Regenerate([]byte("base\n"), []RoleOverlay{overlay(domain.RoleSender, "usr_s", at)}, false, nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if strings.Contains(string(partial), "diagonal") {
		t.Fatalf("partial document got watermark: %s", partial)
	}
	complete, err := p.Regenerate([]byte("base\n"), []RoleOverlay{overlay(domain.RoleSender, "usr_s", at)}, true, nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	lines := ops(complete)
	if lines[len(lines)-1] != `diagonal "SIGNED"` {
		t.Fatalf("expected SIGNED watermark last, got %s", lines[len(lines)-1])
	}
}

func TestAttemptNotesCapped(t *testing.T) {
	p := New(&opRenderer{})
	var attempts []domain.FailedAttempt
	for i := 1; i <= 8; i++ {
		attempts = append(attempts, domain.FailedAttempt{AttemptNo: i, NotedAt: time.Now(), Location: "x"})
	}
	out, err := p.Regenerate([]byte("base\n"), nil, false, attempts)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got := strings.Count(string(out), "Attempt "); got != MaxAttemptNotes {
		t.Fatalf("expected %d attempt notes, got %d", MaxAttemptNotes, got)
	}
}

func TestRegenerateWrapsRendererFailure(t *testing.T) {
	p := New(&opRenderer{failOn: "Mensajero"})
	at := time.Now().UTC()
	_, err := p.Regenerate([]byte("base\n"), []RoleOverlay{overlay(domain.RoleCourier, "usr_c", at)}, false, nil)
	if !errors.Is(err, domain.ErrRegenerationFailure) {
		t.Fatalf("expected ErrRegenerationFailure, got %v", err)
	}
}
