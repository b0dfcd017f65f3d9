package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/sslshop/internal/model"
)

func TestMapAuthorityStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   model.OrderStatus
		mapped bool
	}{
		{"active", model.OrderIssued, true},
		{"processing", model.OrderProcessing, true},
		{"pending", model.OrderProcessing, true},
		{"pending_validation", model.OrderProcessing, true},
		{"domain_validation_required", model.OrderProcessing, true},
		{"expired", model.OrderExpired, true},
		{"cancelled", model.OrderFailed, true},
		{"rejected", model.OrderFailed, true},
		{"revoked", model.OrderFailed, true},
		{" Active ", model.OrderIssued, true},
		{"incomplete", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := MapAuthorityStatus(tt.in)
			assert.Equal(t, tt.mapped, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
