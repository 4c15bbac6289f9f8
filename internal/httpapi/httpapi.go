// Package httpapi exposes the POS core over JSON endpoints for the
// terminal frontend. Routing is plain net/http with path-tail dispatch;
// domain errors are mapped to statuses in one place.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
	"kasapos/backend/internal/ledger"
	"kasapos/backend/internal/service"
)

type API struct {
	service       *service.Service
	log           zerolog.Logger
	allowedOrigin string
}

func New(svc *service.Service, logger zerolog.Logger, allowedOrigin string) *API {
	return &API{
		service:       svc,
		log:           logger,
		allowedOrigin: allowedOrigin,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/carts", a.handleCarts)
	mux.HandleFunc("/api/v1/carts/", a.handleCartActions)
	mux.HandleFunc("/api/v1/held-carts", a.handleHeldCarts)
	mux.HandleFunc("/api/v1/held-carts/", a.handleHeldCartActions)

	mux.HandleFunc("/api/v1/shifts/open", a.handleShiftOpen)
	mux.HandleFunc("/api/v1/shifts/close", a.handleShiftClose)
	mux.HandleFunc("/api/v1/shifts/active", a.handleShiftActive)
	mux.HandleFunc("/api/v1/shifts/", a.handleShiftReport)

	mux.HandleFunc("/api/v1/corrections", a.handleCorrections)
	mux.HandleFunc("/api/v1/corrections/", a.handleCorrectionActions)

	mux.HandleFunc("/api/v1/audit-logs", a.handleAuditLogs)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// ---- carts ----

func (a *API) handleCarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req service.CartCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.service.CreateCart(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": view})
}

func (a *API) handleCartActions(w http.ResponseWriter, r *http.Request) {
	cartID, action := splitTail(r.URL.Path, "/api/v1/carts/")
	if cartID == "" {
		writeError(w, http.StatusBadRequest, errors.New("cart id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		view, err := a.service.GetCart(r.Context(), cartID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case "lines":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			ProductID string `json:"product_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.AddCartLine(r.Context(), cartID, req.ProductID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case "remove-line":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			ProductID string `json:"product_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.RemoveCartLine(r.Context(), cartID, req.ProductID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case "quantity":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			ProductID string `json:"product_id"`
			Quantity  int    `json:"quantity"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.SetCartQuantity(r.Context(), cartID, req.ProductID, req.Quantity)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case "price":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			ProductID string          `json:"product_id"`
			Price     decimal.Decimal `json:"price"`
			IsNet     bool            `json:"is_net"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.SetCartPrice(r.Context(), cartID, req.ProductID, req.Price, req.IsNet)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case "discount":
		switch r.Method {
		case http.MethodPost:
			var req domain.DiscountApplyRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			req.CartID = cartID
			resp, err := a.service.ApplyDiscount(r.Context(), req)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		case http.MethodDelete:
			view, err := a.service.RemoveDiscount(r.Context(), cartID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cart": view})
		default:
			writeMethodNotAllowed(w)
		}

	case "hold":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			Label string `json:"label,omitempty"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		held, err := a.service.HoldCart(r.Context(), cartID, req.Label)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"held_cart": held})

	case "submit":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.SaleSubmitRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.CartID = cartID
		resp, err := a.service.SubmitSale(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown cart action"))
	}
}

// ---- held carts ----

func (a *API) handleHeldCarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	held, err := a.service.ListHeldCarts(r.Context(),
		strings.TrimSpace(r.URL.Query().Get("cashier")),
		strings.TrimSpace(r.URL.Query().Get("location_id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held_carts": held})
}

func (a *API) handleHeldCartActions(w http.ResponseWriter, r *http.Request) {
	holdID, action := splitTail(r.URL.Path, "/api/v1/held-carts/")
	if holdID == "" {
		writeError(w, http.StatusBadRequest, errors.New("held cart id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodDelete {
			writeMethodNotAllowed(w)
			return
		}
		if err := a.service.DiscardHeldCart(r.Context(), holdID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	case "resume":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		view, err := a.service.ResumeHeldCart(r.Context(), holdID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown held cart action"))
	}
}

// ---- shifts ----

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.ActiveShift(r.Context(),
		strings.TrimSpace(r.URL.Query().Get("cashier")),
		strings.TrimSpace(r.URL.Query().Get("location_id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftReport(w http.ResponseWriter, r *http.Request) {
	shiftID, action := splitTail(r.URL.Path, "/api/v1/shifts/")
	if shiftID == "" || action != "" {
		writeError(w, http.StatusNotFound, errors.New("unknown shift action"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.ShiftReport(r.Context(), shiftID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- corrections ----

func (a *API) handleCorrections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CorrectionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	draft, err := a.service.StartCorrection(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"correction": draft})
}

func (a *API) handleCorrectionActions(w http.ResponseWriter, r *http.Request) {
	correctionID, action := splitTail(r.URL.Path, "/api/v1/corrections/")
	if correctionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("correction id required"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	switch action {
	case "lines":
		var req struct {
			PositionID string `json:"position_id"`
			Selected   bool   `json:"selected"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		draft, err := a.service.SelectCorrectionLine(r.Context(), correctionID, req.PositionID, req.Selected)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"correction": draft})

	case "quantity":
		var req struct {
			PositionID string          `json:"position_id"`
			Quantity   decimal.Decimal `json:"quantity"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		draft, err := a.service.SetCorrectionQuantity(r.Context(), correctionID, req.PositionID, req.Quantity)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"correction": draft})

	case "amount":
		var req struct {
			PositionID string          `json:"position_id"`
			Amount     decimal.Decimal `json:"amount"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		draft, err := a.service.SetCorrectionAmount(r.Context(), correctionID, req.PositionID, req.Amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"correction": draft})

	case "submit":
		var req domain.CorrectionSubmitRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.CorrectionID = correctionID
		resp, err := a.service.SubmitCorrection(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown correction action"))
	}
}

// ---- audit ----

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(),
		strings.TrimSpace(r.URL.Query().Get("location_id")),
		strings.TrimSpace(r.URL.Query().Get("date")),
		limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

// ---- plumbing ----

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

// splitTail returns the id segment after prefix and the remaining action
// path, if any.
func splitTail(path string, prefix string) (string, string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return "", ""
	}
	if idx := strings.Index(tail, "/"); idx >= 0 {
		return tail[:idx], strings.Trim(tail[idx+1:], "/")
	}
	return tail, ""
}

// writeDomainError maps domain and ledger sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrCorrectionNotFound),
		errors.Is(err, domain.ErrNoOpenShift),
		errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrCashCountNotConfirmed),
		errors.Is(err, domain.ErrNoLinesSelected),
		errors.Is(err, domain.ErrReasonRequired):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrShiftAlreadyOpen),
		errors.Is(err, domain.ErrDiscountAlreadyApplied),
		errors.Is(err, domain.ErrNoDiscountApplied),
		errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDiscountUnavailable),
		errors.Is(err, ledger.ErrUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOverrideRequired),
		errors.Is(err, domain.ErrPINMismatch):
		status = http.StatusForbidden
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// Clients never see 5xx details.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
