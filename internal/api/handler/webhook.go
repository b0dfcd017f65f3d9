package handler

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/api/response"
	"github.com/edvin/sslshop/internal/lifecycle"
)

const (
	squareSignatureHeader    = "x-square-hmacsha256-signature"
	authoritySignatureHeader = "X-Signature"
	maxWebhookBody           = 1 << 20
)

// Webhook receives provider callbacks. These routes sit outside API key
// auth; each request is authenticated by its signature instead.
type Webhook struct {
	svc *lifecycle.Webhooks
}

func NewWebhook(svc *lifecycle.Webhooks) *Webhook {
	return &Webhook{svc: svc}
}

// Square godoc
//
//	@Summary		Receive a Square webhook event
//	@Tags			Webhooks
//	@Param			x-square-hmacsha256-signature header string true "Event signature"
//	@Success		200
//	@Failure		401 {object} response.ErrorResponse
//	@Router			/webhooks/square [post]
func (h *Webhook) Square(w http.ResponseWriter, r *http.Request) {
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.HandleSquare(r.Context(), body, r.Header.Get(squareSignatureHeader)); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("square webhook not accepted")
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GoGetSSL godoc
//
//	@Summary		Receive a certificate authority status callback
//	@Tags			Webhooks
//	@Param			X-Signature header string true "Callback signature"
//	@Success		200
//	@Failure		401 {object} response.ErrorResponse
//	@Router			/webhooks/gogetssl [post]
func (h *Webhook) GoGetSSL(w http.ResponseWriter, r *http.Request) {
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.HandleAuthority(r.Context(), body, r.Header.Get(authoritySignatureHeader)); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("authority callback not accepted")
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.WriteError(w, http.StatusRequestEntityTooLarge, "webhook body too large")
		return nil, false
	}
	return body, true
}
