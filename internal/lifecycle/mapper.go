package lifecycle

import (
	"strings"

	"github.com/edvin/sslshop/internal/model"
)

// AuthorityDomainValidation is the authority status that asks the approver
// to complete domain control validation.
const AuthorityDomainValidation = "domain_validation_required"

var authorityStatuses = map[string]model.OrderStatus{
	"active":                  model.OrderIssued,
	"processing":              model.OrderProcessing,
	"pending":                 model.OrderProcessing,
	"pending_validation":      model.OrderProcessing,
	AuthorityDomainValidation: model.OrderProcessing,
	"expired":                 model.OrderExpired,
	"cancelled":               model.OrderFailed,
	"rejected":                model.OrderFailed,
	"revoked":                 model.OrderFailed,
}

// MapAuthorityStatus maps an authority status to an order state. The
// second result is false for statuses it does not know; those never
// produce a transition.
func MapAuthorityStatus(external string) (model.OrderStatus, bool) {
	s, ok := authorityStatuses[normalizeAuthorityStatus(external)]
	return s, ok
}

func normalizeAuthorityStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
