package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/sslshop/internal/api/request"
	"github.com/edvin/sslshop/internal/api/response"
	"github.com/edvin/sslshop/internal/core"
)

type Subscription struct {
	svc *core.SubscriptionService
}

func NewSubscription(svc *core.SubscriptionService) *Subscription {
	return &Subscription{svc: svc}
}

// Get godoc
//
//	@Summary		Get a certificate subscription
//	@Tags			Subscriptions
//	@Security		ApiKeyAuth
//	@Param			id path string true "Subscription ID"
//	@Success		200 {object} model.CertificateSubscription
//	@Failure		404 {object} response.ErrorResponse
//	@Router			/subscriptions/{id} [get]
func (h *Subscription) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, sub)
}

// Apply godoc
//
//	@Summary		Pause, resume or cancel a subscription
//	@Tags			Subscriptions
//	@Security		ApiKeyAuth
//	@Param			id path string true "Subscription ID"
//	@Param			action path string true "Action" Enums(pause, resume, cancel)
//	@Success		200 {object} model.CertificateSubscription
//	@Failure		400 {object} response.ErrorResponse
//	@Failure		404 {object} response.ErrorResponse
//	@Router			/subscriptions/{id}/{action} [post]
func (h *Subscription) Apply(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	action := chi.URLParam(r, "action")
	switch action {
	case core.SubscriptionPause, core.SubscriptionResume, core.SubscriptionCancel:
	default:
		response.WriteError(w, http.StatusBadRequest, "unknown subscription action: "+action)
		return
	}

	sub, err := h.svc.Apply(r.Context(), id, action)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, sub)
}
