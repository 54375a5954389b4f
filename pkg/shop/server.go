// SPDX-License-Identifier: Apache-2.0

package shop

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

// PurchaseRequest is the body of POST /purchase.
type PurchaseRequest struct {
	Items map[string]int `json:"items"`
}

// PurchaseResponse reports what was sold.
type PurchaseResponse struct {
	Fulfilled map[string]int `json:"fulfilled"`
	Total     float64        `json:"total"`
	Message   string         `json:"message"`
}

// NewHandler serves inv over HTTP.
func NewHandler(inv *Inventory, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = telemetry.Component("shop")
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/capability", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, inv.Capability())
	})
	r.Post("/purchase", func(w http.ResponseWriter, req *http.Request) {
		var body PurchaseRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || len(body.Items) == 0 {
			writeError(w, errors.New(errors.CodeInvalidInput, "purchase needs a non-empty items map", err))
			return
		}
		taken, total, err := inv.Purchase(body.Items)
		if err != nil {
			writeError(w, errors.New(errors.CodeInvalidInput, "invalid purchase", err))
			return
		}
		msg := "nothing in stock for this order"
		if len(taken) > 0 {
			msg = fmt.Sprintf("sold %d line(s)", len(taken))
		}
		logger.InfoContext(req.Context(), "shop.purchase",
			slog.Any("order", body.Items),
			slog.Any("fulfilled", taken),
			slog.Float64("total", total))
		writeJSON(w, http.StatusOK, PurchaseResponse{Fulfilled: taken, Total: total, Message: msg})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *errors.HubnetError) {
	writeJSON(w, err.StatusCode, map[string]any{"detail": err})
}
