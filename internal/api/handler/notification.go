package handler

import (
	"net/http"

	"github.com/edvin/sslshop/internal/api/request"
	"github.com/edvin/sslshop/internal/api/response"
	"github.com/edvin/sslshop/internal/core"
)

type Notification struct {
	svc *core.NotificationService
}

func NewNotification(svc *core.NotificationService) *Notification {
	return &Notification{svc: svc}
}

// List godoc
//
//	@Summary		List an owner's in-app notifications, newest first
//	@Tags			Notifications
//	@Security		ApiKeyAuth
//	@Param			owner_id query string true "Owner ID"
//	@Param			limit query int false "Maximum number of notifications" default(50)
//	@Success		200 {array} model.Notification
//	@Failure		400 {object} response.ErrorResponse
//	@Router			/notifications [get]
func (h *Notification) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := request.RequireQuery(r, "owner_id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pg := request.ParsePagination(r)

	notes, err := h.svc.ListByOwner(r.Context(), ownerID, pg.Limit)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, notes)
}
