package pdfgen

import (
	"encoding/json"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// BarcodePayload is the verification payload embedded in the scannable code
// stamped onto the authorization document during ingestion.
type BarcodePayload struct {
	CaseNumber string    `json:"case_number"`
	DeliveryID string    `json:"delivery_id"`
	CarrierID  string    `json:"carrier_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// QR renders the JSON-encoded payload as a PNG QR code.
func (p BarcodePayload) QR() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(string(b), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}

// TrackingCode is the plain-text fallback code used for tracking lookups.
func TrackingCode(deliveryID, caseNumber string) string {
	return fmt.Sprintf("DEL-%s-%s", deliveryID, caseNumber)
}
