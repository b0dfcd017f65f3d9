package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/sslshop/internal/api/request"
	"github.com/edvin/sslshop/internal/api/response"
	"github.com/edvin/sslshop/internal/core"
	"github.com/edvin/sslshop/internal/model"
)

type Order struct {
	svc *core.OrderService
}

func NewOrder(svc *core.OrderService) *Order {
	return &Order{svc: svc}
}

// List godoc
//
//	@Summary		List an owner's certificate orders
//	@Tags			Orders
//	@Security		ApiKeyAuth
//	@Param			owner_id query string true "Owner ID"
//	@Param			limit query int false "Page size" default(50)
//	@Param			cursor query string false "Pagination cursor"
//	@Success		200 {object} response.PaginatedResponse{items=[]core.OrderView}
//	@Failure		400 {object} response.ErrorResponse
//	@Failure		500 {object} response.ErrorResponse
//	@Router			/orders [get]
func (h *Order) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := request.RequireQuery(r, "owner_id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pg := request.ParsePagination(r)

	orders, hasMore, err := h.svc.ListByOwner(r.Context(), ownerID, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		nextCursor = orders[len(orders)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, orders, nextCursor, hasMore)
}

// Get godoc
//
//	@Summary		Get a certificate order
//	@Tags			Orders
//	@Security		ApiKeyAuth
//	@Param			id path string true "Order ID"
//	@Success		200 {object} core.OrderView
//	@Failure		404 {object} response.ErrorResponse
//	@Router			/orders/{id} [get]
func (h *Order) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, order)
}

// Place godoc
//
//	@Summary		Buy a certificate
//	@Description	Charges the card and places the order with the certificate authority. Returns 202 while the order is processing and 201 once it reached a terminal state, including a declined payment.
//	@Tags			Orders
//	@Security		ApiKeyAuth
//	@Param			body body request.PlaceOrder true "Order details"
//	@Success		201 {object} core.OrderView
//	@Success		202 {object} core.OrderView
//	@Failure		400 {object} response.ErrorResponse
//	@Failure		409 {object} response.ErrorResponse
//	@Failure		503 {object} response.ErrorResponse
//	@Router			/orders [post]
func (h *Order) Place(w http.ResponseWriter, r *http.Request) {
	var req request.PlaceOrder
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.svc.Place(r.Context(), req.Lifecycle())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	status := http.StatusAccepted
	if order.Status == model.OrderFailed {
		status = http.StatusCreated
	}
	response.WriteJSON(w, status, order)
}

// Reissue godoc
//
//	@Summary		Reissue an issued certificate with a new CSR
//	@Tags			Orders
//	@Security		ApiKeyAuth
//	@Param			id path string true "Order ID"
//	@Param			body body request.ReissueOrder true "New CSR"
//	@Success		202 {object} core.OrderView
//	@Failure		400 {object} response.ErrorResponse
//	@Failure		404 {object} response.ErrorResponse
//	@Router			/orders/{id}/reissue [post]
func (h *Order) Reissue(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReissueOrder
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.svc.Reissue(r.Context(), id, req.CSR)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, order)
}

// Events godoc
//
//	@Summary		List the lifecycle history of an order
//	@Tags			Orders
//	@Security		ApiKeyAuth
//	@Param			id path string true "Order ID"
//	@Success		200 {array} model.LifecycleEvent
//	@Failure		404 {object} response.ErrorResponse
//	@Router			/orders/{id}/events [get]
func (h *Order) Events(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.svc.Events(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, events)
}
