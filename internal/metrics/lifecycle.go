package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_order_transitions_total",
		Help: "Order state transitions applied, by source and target state.",
	}, []string{"from", "to"})

	ReconcileResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_reconcile_results_total",
		Help: "Per-order reconciliation outcomes.",
	}, []string{"result"})

	AuthorityRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_gogetssl_requests_total",
		Help: "Certificate authority API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	AuthorityRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sslshop_gogetssl_request_duration_seconds",
		Help:    "Certificate authority API call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// CredentialRefreshes counts authentications against the authority.
	CredentialRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslshop_gogetssl_credential_refreshes_total",
		Help: "Authentications performed against the certificate authority.",
	})

	PaymentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_square_requests_total",
		Help: "Payment provider API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	RenewalResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_renewal_results_total",
		Help: "Renewal attempts by outcome.",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_notifications_total",
		Help: "Notification deliveries by channel and result.",
	}, []string{"channel", "result"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslshop_webhook_events_total",
		Help: "Inbound webhook events by source, type and result.",
	}, []string{"source", "type", "result"})
)
