package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"posledger/internal/domain"
)

// decode writes the 4xx itself and reports whether the handler may go on.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	err := decodeJSON(r, dest)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return false
	}
	writeError(w, http.StatusBadRequest, err)
	return false
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.service.ListAccounts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if !a.decode(w, r, &req) {
		return
	}
	sell, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sell": sell})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sell, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sell": sell})
}

func (a *API) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateSaleRequest
	if !a.decode(w, r, &req) {
		return
	}
	sell, err := a.service.UpdateSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sell": sell})
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateDebt(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDebtRequest
	if !a.decode(w, r, &req) {
		return
	}
	debt, err := a.service.CreateDebt(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"debt": debt})
}

func (a *API) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	debt, err := a.service.GetDebt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debt": debt})
}

func (a *API) handleUpdateDebt(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateDebtRequest
	if !a.decode(w, r, &req) {
		return
	}
	debt, err := a.service.UpdateDebt(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debt": debt})
}

func (a *API) handleDeleteDebt(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteDebt(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListDebtPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	payment, err := a.service.RecordPayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
}

func (a *API) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	payment, err := a.service.UpdatePayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (a *API) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeletePayment(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
