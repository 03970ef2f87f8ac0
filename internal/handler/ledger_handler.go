package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/ledger"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
)

var errRecordNotFound = errors.New("record not found")

// LedgerHandler exposes the company-scoped business records. The
// company is taken from the authenticated session, never the request.
type LedgerHandler struct {
	store  *store.Store
	auth   *AuthHandler
	logger *zap.Logger
}

func NewLedgerHandler(st *store.Store, auth *AuthHandler, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		store:  st,
		auth:   auth,
		logger: logger,
	}
}

func (h *LedgerHandler) RegisterRoutes(router chi.Router) {
	router.Route("/ledger", func(r chi.Router) {
		r.Use(h.auth.RequireSession)

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/", h.CreateSale)
			r.Put("/{saleID}", h.UpdateSale)
			r.Delete("/{saleID}", h.DeleteSale)
		})
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.CreateStaff)
			r.Delete("/{staffID}", h.DeleteStaff)
		})
		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.CreateAdvance)
			r.Patch("/{advanceID}/repaid", h.MarkAdvanceRepaid)
			r.Delete("/{advanceID}", h.DeleteAdvance)
		})
		r.Route("/treasury", func(r chi.Router) {
			r.Get("/", h.ListTreasury)
			r.Post("/", h.CreateTreasuryEntry)
			r.Get("/balance", h.TreasuryBalance)
		})
		r.Get("/client-balances", h.ListClientBalances)
	})
}

// ledgerForRequest builds a company-scoped ledger from the session.
func (h *LedgerHandler) ledgerForRequest(r *http.Request) (*ledger.Ledger, bool) {
	rec, ok := sessionFromContext(r.Context())
	if !ok || rec.CompanyID == "" {
		return nil, false
	}
	return ledger.New(h.store, rec.CompanyID), true
}

func (h *LedgerHandler) withLedger(w http.ResponseWriter, r *http.Request, fn func(l *ledger.Ledger)) {
	l, ok := h.ledgerForRequest(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, errorResponse(errors.New("no company scope"), ""))
		return
	}
	fn(l)
}

func (h *LedgerHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		writeJSON(w, http.StatusOK, successResponse(l.Sales(), ""))
	})
}

func (h *LedgerHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		var sale ledger.Sale
		if err := json.NewDecoder(r.Body).Decode(&sale); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid request body"))
			return
		}
		created, ok := l.AddSale(sale)
		if !ok {
			writeJSON(w, http.StatusInsufficientStorage, errorResponse(errors.New("write failed"), ""))
			return
		}
		writeJSON(w, http.StatusCreated, successResponse(created, "sale recorded"))
	})
}

func (h *LedgerHandler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		var sale ledger.Sale
		if err := json.NewDecoder(r.Body).Decode(&sale); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid request body"))
			return
		}
		sale.ID = chi.URLParam(r, "saleID")
		if !l.UpdateSale(sale) {
			writeJSON(w, http.StatusNotFound, errorResponse(errRecordNotFound, ""))
			return
		}
		writeJSON(w, http.StatusOK, successResponse(sale, "sale updated"))
	})
}

func (h *LedgerHandler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		if !l.DeleteSale(chi.URLParam(r, "saleID")) {
			writeJSON(w, http.StatusNotFound, errorResponse(errRecordNotFound, ""))
			return
		}
		writeJSON(w, http.StatusOK, successResponse(nil, "sale deleted"))
	})
}

func (h *LedgerHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		writeJSON(w, http.StatusOK, successResponse(l.Staff(), ""))
	})
}

func (h *LedgerHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		var member ledger.StaffMember
		if err := json.NewDecoder(r.Body).Decode(&member); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid request body"))
			return
		}
		created, ok := l.AddStaff(member)
		if !ok {
			writeJSON(w, http.StatusInsufficientStorage, errorResponse(errors.New("write failed"), ""))
			return
		}
		writeJSON(w, http.StatusCreated, successResponse(created, "staff member added"))
	})
}

func (h *LedgerHandler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		if !l.DeleteStaff(chi.URLParam(r, "staffID")) {
			writeJSON(w, http.StatusNotFound, errorResponse(errRecordNotFound, ""))
			return
		}
		writeJSON(w, http.StatusOK, successResponse(nil, "staff member removed"))
	})
}

func (h *LedgerHandler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		writeJSON(w, http.StatusOK, successResponse(l.Advances(), ""))
	})
}

func (h *LedgerHandler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		var adv ledger.Advance
		if err := json.NewDecoder(r.Body).Decode(&adv); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid request body"))
			return
		}
		created, ok := l.AddAdvance(adv)
		if !ok {
			writeJSON(w, http.StatusInsufficientStorage, errorResponse(errors.New("write failed"), ""))
			return
		}
		writeJSON(w, http.StatusCreated, successResponse(created, "advance recorded"))
	})
}

func (h *LedgerHandler) MarkAdvanceRepaid(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		if !l.MarkAdvanceRepaid(chi.URLParam(r, "advanceID")) {
			writeJSON(w, http.StatusNotFound, errorResponse(errRecordNotFound, ""))
			return
		}
		writeJSON(w, http.StatusOK, successResponse(nil, "advance marked repaid"))
	})
}

func (h *LedgerHandler) DeleteAdvance(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		if !l.DeleteAdvance(chi.URLParam(r, "advanceID")) {
			writeJSON(w, http.StatusNotFound, errorResponse(errRecordNotFound, ""))
			return
		}
		writeJSON(w, http.StatusOK, successResponse(nil, "advance deleted"))
	})
}

func (h *LedgerHandler) ListTreasury(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		writeJSON(w, http.StatusOK, successResponse(l.Treasury(), ""))
	})
}

func (h *LedgerHandler) CreateTreasuryEntry(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		var entry ledger.TreasuryEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid request body"))
			return
		}
		created, ok := l.AddTreasuryEntry(entry)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse(errors.New("invalid treasury entry"), ""))
			return
		}
		writeJSON(w, http.StatusCreated, successResponse(created, "treasury entry recorded"))
	})
}

func (h *LedgerHandler) TreasuryBalance(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		writeJSON(w, http.StatusOK, successResponse(map[string]float64{"balance": l.TreasuryBalance()}, ""))
	})
}

func (h *LedgerHandler) ListClientBalances(w http.ResponseWriter, r *http.Request) {
	h.withLedger(w, r, func(l *ledger.Ledger) {
		writeJSON(w, http.StatusOK, successResponse(l.ClientBalances(), ""))
	})
}
