package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khalilayoub23/fastepost-signing/pkg/captoken"
	"github.com/khalilayoub23/fastepost-signing/pkg/db"
	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
	"github.com/khalilayoub23/fastepost-signing/pkg/httpx"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/blob"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/capture"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/config"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/metrics"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/notify"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/pdfgen"
	"github.com/khalilayoub23/fastepost-signing/services/signing/internal/store"
)

const maxDocumentBytes = 20 << 20 // 20MB

// captureStore adapts the concrete store to the capture service's
// transaction interface.
type captureStore struct{ *store.Store }

func (s captureStore) WithDelivery(ctx context.Context, deliveryID string, fn func(tx capture.Tx) error) error {
	return s.Store.WithDelivery(ctx, deliveryID, func(tx *store.DeliveryTx) error { return fn(tx) })
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Error("database connect failed", "error", err)
			os.Exit(1)
		}
	} else {
		pool = db.MustConnect()
	}
	st := store.New(pool)
	blobs := blob.NewPG(pool)

	var notifier notify.Notifier = notify.Discard{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Secret)
	}
	dispatcher := notify.NewDispatcher(notifier, log, cfg.Notify.Buffer, metrics.NotificationsDroppedTotal.Inc)
	defer dispatcher.Close()

	pipeline := pdfgen.New(pdfgen.NewRenderer())
	svc := capture.New(captureStore{st}, pipeline, dispatcher, log)
	issuer := captoken.New([]byte(cfg.TokenSecret))

	metrics.Register()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/signing", func(api chi.Router) {

		api.Post("/users", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				FullName       string `json:"full_name"`
				Email          string `json:"email"`
				Phone          string `json:"phone"`
				SignatureImage string `json:"signature_image"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			u := store.User{FullName: req.FullName, Email: req.Email, Phone: req.Phone}
			if req.SignatureImage != "" {
				img, err := base64.StdEncoding.DecodeString(req.SignatureImage)
				if err != nil {
					httpx.WriteError(w, 400, "BAD_SIGNATURE_IMAGE", err.Error(), nil)
					return
				}
				docID, err := blobs.Put(r.Context(), img, "signature.png", "image/png")
				if err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
				u.SignatureDocID = &docID
			}
			u, err := st.CreateUser(r.Context(), u)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "user": u})
		})

		api.Get("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
			u, err := st.GetUser(r.Context(), chi.URLParam(r, "user_id"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", "user not found", nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "user": u})
		})

		api.Post("/users/{user_id}/signature", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				SignatureImage string `json:"signature_image"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			img, err := base64.StdEncoding.DecodeString(req.SignatureImage)
			if err != nil || len(img) == 0 {
				httpx.WriteError(w, 400, "BAD_SIGNATURE_IMAGE", "a base64 png is required", nil)
				return
			}
			docID, err := blobs.Put(r.Context(), img, "signature.png", "image/png")
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			if err := st.EnrollSignature(r.Context(), chi.URLParam(r, "user_id"), docID); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "signature_doc_id": docID})
		})

		api.Post("/deliveries", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				CaseNumber  string `json:"case_number"`
				SenderID    string `json:"sender_id"`
				CourierID   string `json:"courier_id"`
				RecipientID string `json:"recipient_id"`
				CarrierID   string `json:"carrier_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			d := &domain.Delivery{
				CaseNumber:  req.CaseNumber,
				SenderID:    req.SenderID,
				CourierID:   req.CourierID,
				RecipientID: req.RecipientID,
				CarrierID:   req.CarrierID,
			}
			if err := st.CreateDelivery(r.Context(), d); err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "delivery": d})
		})

		api.Get("/deliveries/{delivery_id}", func(w http.ResponseWriter, r *http.Request) {
			d, err := st.GetDelivery(r.Context(), chi.URLParam(r, "delivery_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, deliveryView(d))
		})

		api.Get("/deliveries/by-case/{case_number}", func(w http.ResponseWriter, r *http.Request) {
			d, err := st.GetDeliveryByCase(r.Context(), chi.URLParam(r, "case_number"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, deliveryView(d))
		})

		api.Get("/deliveries/{delivery_id}/ledger", func(w http.ResponseWriter, r *http.Request) {
			entries, err := st.LedgerEntries(r.Context(), chi.URLParam(r, "delivery_id"))
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "entries": entries})
		})

		api.Post("/deliveries/{delivery_id}/document", func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
			var req struct {
				Document string `json:"document"`
				Filename string `json:"filename"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			src, err := base64.StdEncoding.DecodeString(req.Document)
			if err != nil {
				httpx.WriteError(w, 400, "BAD_DOCUMENT", err.Error(), nil)
				return
			}
			if req.Filename == "" {
				req.Filename = "original.pdf"
			}
			d, err := svc.Ingest(r.Context(), chi.URLParam(r, "delivery_id"), src, req.Filename)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, deliveryView(d))
		})

		api.Get("/deliveries/{delivery_id}/document/{revision}", func(w http.ResponseWriter, r *http.Request) {
			d, err := st.GetDelivery(r.Context(), chi.URLParam(r, "delivery_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			var docID string
			switch chi.URLParam(r, "revision") {
			case "original":
				docID = d.OriginalDocID
			case "base":
				docID = d.BaseDocID
			case "current":
				docID = d.CurrentDocID
			case "final":
				docID = d.FinalDocID
			default:
				httpx.WriteError(w, 400, "UNKNOWN_REVISION", "revision must be original|base|current|final", nil)
				return
			}
			if docID == "" {
				httpx.WriteError(w, 404, "NOT_FOUND", "revision not available", nil)
				return
			}
			b, ct, err := blob.ReadAll(r.Context(), blobs, docID)
			if err != nil {
				if errors.Is(err, blob.ErrNotFound) {
					httpx.WriteError(w, 404, "NOT_FOUND", "document not found", nil)
					return
				}
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteBytes(w, 200, ct, b)
		})

		api.Post("/deliveries/{delivery_id}/signatures/{role}", func(w http.ResponseWriter, r *http.Request) {
			deliveryID := chi.URLParam(r, "delivery_id")
			roleName := chi.URLParam(r, "role")
			var req struct {
				ActorID         string `json:"actor_id"`
				SignatureImage  string `json:"signature_image"`
				CapabilityToken string `json:"capability_token"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}

			actorID := req.ActorID
			if req.CapabilityToken != "" {
				claims, err := issuer.Redeem(req.CapabilityToken)
				if err != nil || !tokenMatches(claims, deliveryID, roleName) {
					writeDomainError(w, domain.ErrTokenInvalid)
					return
				}
				actorID = claims.UserID
			}

			var img []byte
			if req.SignatureImage != "" {
				var err error
				img, err = base64.StdEncoding.DecodeString(req.SignatureImage)
				if err != nil {
					httpx.WriteError(w, 400, "BAD_SIGNATURE_IMAGE", err.Error(), nil)
					return
				}
			}

			res, err := svc.Capture(r.Context(), capture.Request{
				DeliveryID:     deliveryID,
				Role:           roleName,
				ActorID:        actorID,
				NetworkAddress: r.RemoteAddr,
				SignatureImage: img,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			view := deliveryView(res.Delivery)
			view["ledger_entry"] = res.Entry
			view["completed"] = res.Completed
			httpx.WriteJSON(w, 200, view)
		})

		api.Get("/deliveries/{delivery_id}/signatures/{role}/verify", func(w http.ResponseWriter, r *http.Request) {
			ok, err := svc.Verify(r.Context(), chi.URLParam(r, "delivery_id"), chi.URLParam(r, "role"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "valid": ok})
		})

		api.Post("/deliveries/{delivery_id}/tokens", func(w http.ResponseWriter, r *http.Request) {
			deliveryID := chi.URLParam(r, "delivery_id")
			var req struct {
				UserID     string `json:"user_id"`
				Role       string `json:"role"`
				TTLSeconds int    `json:"ttl_seconds"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			role, err := domain.ParseRole(req.Role)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			d, err := st.GetDelivery(r.Context(), deliveryID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if d.Participant(role) != req.UserID {
				writeDomainError(w, domain.ErrRoleMismatch)
				return
			}
			ttl := cfg.TokenTTL
			if req.TTLSeconds > 0 {
				ttl = time.Duration(req.TTLSeconds) * time.Second
			}
			token, err := issuer.Issue(deliveryID, req.UserID, role, ttl)
			if err != nil {
				httpx.WriteError(w, 500, "TOKEN_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id": httpx.NewRequestID(),
				"token":      token,
				"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
			})
		})

		api.Post("/deliveries/{delivery_id}/attempts", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				AttemptNo int    `json:"attempt_no"`
				Location  string `json:"location"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			a := domain.FailedAttempt{
				DeliveryID: chi.URLParam(r, "delivery_id"),
				AttemptNo:  req.AttemptNo,
				NotedAt:    time.Now().UTC(),
				Location:   req.Location,
			}
			if err := st.RecordFailedAttempt(r.Context(), a); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			if err := st.AppendAudit(r.Context(), domain.AuditEntry{
				DeliveryID: a.DeliveryID,
				Action:     "attempt_recorded",
				Details:    map[string]any{"attempt_no": a.AttemptNo, "location": a.Location},
			}); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "attempt": a})
		})

		api.Get("/deliveries/{delivery_id}/attempts", func(w http.ResponseWriter, r *http.Request) {
			attempts, err := st.RecentFailedAttempts(r.Context(), chi.URLParam(r, "delivery_id"), pdfgen.MaxAttemptNotes)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "attempts": attempts})
		})

		api.Post("/deliveries/{delivery_id}/document/regenerate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ActorID string `json:"actor_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			d, err := svc.Rebuild(r.Context(), chi.URLParam(r, "delivery_id"), req.ActorID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, deliveryView(d))
		})

		api.Get("/track/{code}", func(w http.ResponseWriter, r *http.Request) {
			d, err := st.GetDeliveryByTracking(r.Context(), chi.URLParam(r, "code"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":         httpx.NewRequestID(),
				"delivery_id":        d.ID,
				"case_number":        d.CaseNumber,
				"status":             d.Status,
				"completion_percent": d.CompletionPercent(),
				"outstanding_roles":  d.OutstandingRoles(),
			})
		})
	})

	log.Info("signing service listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func deliveryView(d *domain.Delivery) map[string]any {
	return map[string]any{
		"request_id":         httpx.NewRequestID(),
		"delivery":           d,
		"timeline":           d.Timeline(),
		"outstanding_roles":  d.OutstandingRoles(),
		"completion_percent": d.CompletionPercent(),
		"tracking_code":      pdfgen.TrackingCode(d.ID, d.CaseNumber),
	}
}

// tokenMatches reports whether redeemed claims authorize signing roleName on
// deliveryID. The role parameter is normalized the same way the session path
// normalizes it, so "Recipient" and "recipient" bind the same token.
func tokenMatches(c captoken.Claims, deliveryID, roleName string) bool {
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return false
	}
	return c.DeliveryID == deliveryID && c.Role == role
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownRole):
		httpx.WriteError(w, 400, "UNKNOWN_ROLE", err.Error(), nil)
	case errors.Is(err, domain.ErrRoleMismatch):
		httpx.WriteError(w, 403, "ROLE_MISMATCH", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadySigned):
		httpx.WriteError(w, 409, "ALREADY_SIGNED", err.Error(), nil)
	case errors.Is(err, domain.ErrMissingSignatureSource):
		httpx.WriteError(w, 422, "MISSING_SIGNATURE_SOURCE", err.Error(), nil)
	case errors.Is(err, domain.ErrTokenInvalid):
		httpx.WriteError(w, 401, "TOKEN_INVALID", err.Error(), nil)
	case errors.Is(err, domain.ErrDeliveryCompleted):
		httpx.WriteError(w, 409, "DELIVERY_COMPLETED", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyIngested):
		httpx.WriteError(w, 409, "ALREADY_INGESTED", err.Error(), nil)
	case errors.Is(err, domain.ErrParticipantsNotDistinct):
		httpx.WriteError(w, 400, "PARTICIPANTS_NOT_DISTINCT", err.Error(), nil)
	case errors.Is(err, domain.ErrDeliveryNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrRegenerationFailure):
		httpx.WriteError(w, 500, "REGENERATION_FAILURE", err.Error(), nil)
	default:
		httpx.WriteError(w, 500, "INTERNAL", err.Error(), nil)
	}
}
