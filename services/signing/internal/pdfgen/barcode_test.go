package pdfgen

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestBarcodePayloadFields(t *testing.T) {
	p := BarcodePayload{
		CaseNumber: "FE-20260901-ABCD1234",
		DeliveryID: "dlv_1",
		CarrierID:  "car_9",
		IssuedAt:   time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"case_number", "delivery_id", "carrier_id", "issued_at"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("payload missing %s: %s", k, b)
		}
	}
}

func TestQRProducesPNG(t *testing.T) {
	png, err := BarcodePayload{CaseNumber: "FE-1", DeliveryID: "dlv_1"}.QR()
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("not a png: % x", png[:8])
	}
}

func TestTrackingCode(t *testing.T) {
	if got := TrackingCode("dlv_1", "FE-20260901-ABCD1234"); got != "DEL-dlv_1-FE-20260901-ABCD1234" {
		t.Fatalf("got %q", got)
	}
}
