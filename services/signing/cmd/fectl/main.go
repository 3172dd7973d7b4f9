package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/khalilayoub23/fastepost-signing/pkg/captoken"
	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/pdfgen"
)

const usage = "usage: fectl token issue --delivery <id> --user <id> --role <role> [--ttl <duration>] | fectl token inspect --token <token> | fectl track code --delivery <id> --case <case_number> | fectl track qr --delivery <id> --case <case_number> --carrier <id> --out <path>"

func main() {
	if len(os.Args) < 2 {
		fail("", usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "token":
		runToken(os.Args[2:])
	case "track":
		runTrack(os.Args[2:])
	default:
		fail("", "unknown command")
		os.Exit(2)
	}
}

func runToken(args []string) {
	if len(args) < 1 {
		fail("", usage)
		os.Exit(2)
	}
	switch args[0] {
	case "issue":
		runTokenIssue(args[1:])
	case "inspect":
		runTokenInspect(args[1:])
	default:
		fail("", usage)
		os.Exit(2)
	}
}

func runTokenIssue(args []string) {
	fs := flag.NewFlagSet("token issue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	deliveryID := fs.String("delivery", "", "delivery id")
	userID := fs.String("user", "", "user id the token is bound to")
	roleName := fs.String("role", "", "role: sender, courier or recipient")
	ttl := fs.Duration("ttl", 15*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*deliveryID) == "" || strings.TrimSpace(*userID) == "" {
		fail("", "--delivery and --user are required")
		os.Exit(2)
	}
	role, err := domain.ParseRole(*roleName)
	if err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	issuer, err := issuerFromEnv()
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	token, err := issuer.Issue(*deliveryID, *userID, role, *ttl)
	if err != nil {
		fail(*deliveryID, err.Error())
		os.Exit(1)
	}
	pass(*deliveryID, map[string]any{
		"token":      token,
		"role":       role,
		"expires_at": time.Now().Add(*ttl).UTC().Format(time.RFC3339),
	})
}

func runTokenInspect(args []string) {
	fs := flag.NewFlagSet("token inspect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	token := fs.String("token", "", "capability token to inspect")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	issuer, err := issuerFromEnv()
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	claims, err := issuer.Redeem(strings.TrimSpace(*token))
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	pass(claims.DeliveryID, map[string]any{
		"user_id":    claims.UserID,
		"role":       claims.Role,
		"expires_at": time.Unix(claims.ExpiresAt, 0).UTC().Format(time.RFC3339),
	})
}

func runTrack(args []string) {
	if len(args) < 1 {
		fail("", usage)
		os.Exit(2)
	}
	switch args[0] {
	case "code":
		runTrackCode(args[1:])
	case "qr":
		runTrackQR(args[1:])
	default:
		fail("", usage)
		os.Exit(2)
	}
}

func runTrackCode(args []string) {
	fs := flag.NewFlagSet("track code", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	deliveryID := fs.String("delivery", "", "delivery id")
	caseNumber := fs.String("case", "", "case number")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*deliveryID) == "" || strings.TrimSpace(*caseNumber) == "" {
		fail("", "--delivery and --case are required")
		os.Exit(2)
	}
	code := pdfgen.TrackingCode(*deliveryID, domain.NormalizeCaseNumber(*caseNumber))
	pass(*deliveryID, map[string]any{"tracking_code": code})
}

func runTrackQR(args []string) {
	fs := flag.NewFlagSet("track qr", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	deliveryID := fs.String("delivery", "", "delivery id")
	caseNumber := fs.String("case", "", "case number")
	carrierID := fs.String("carrier", "", "carrier id")
	outPath := fs.String("out", "", "path to write the QR png")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*deliveryID) == "" || strings.TrimSpace(*caseNumber) == "" || strings.TrimSpace(*outPath) == "" {
		fail("", "--delivery, --case and --out are required")
		os.Exit(2)
	}
	payload := pdfgen.BarcodePayload{
		CaseNumber: domain.NormalizeCaseNumber(*caseNumber),
		DeliveryID: strings.TrimSpace(*deliveryID),
		CarrierID:  strings.TrimSpace(*carrierID),
		IssuedAt:   time.Now().UTC(),
	}
	png, err := payload.QR()
	if err != nil {
		fail(*deliveryID, err.Error())
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, png, 0o644); err != nil {
		fail(*deliveryID, "write qr failed: "+err.Error())
		os.Exit(1)
	}
	pass(*deliveryID, map[string]any{"qr_path": *outPath})
}

func issuerFromEnv() (*captoken.Issuer, error) {
	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}
	return captoken.New([]byte(secret)), nil
}

func pass(deliveryID string, extra map[string]any) {
	printSummary("PASS", deliveryID, "", extra)
}

func fail(deliveryID, reason string) {
	printSummary("FAIL", deliveryID, reason, nil)
}

func printSummary(status, deliveryID, reason string, extra map[string]any) {
	out := map[string]any{
		"status":        status,
		"delivery_id":   deliveryID,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		out["reason"] = reason
	}
	for k, v := range extra {
		out[k] = v
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}
