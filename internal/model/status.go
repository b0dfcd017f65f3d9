package model

// OrderStatus is the lifecycle state of a certificate order.
type OrderStatus string

// Order lifecycle states.
const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderIssued     OrderStatus = "issued"
	OrderFailed     OrderStatus = "failed"
	OrderExpired    OrderStatus = "expired"
)

// orderTransitions lists the states reachable from each state. Pending is
// only ever entered at creation. Processing may be revisited while the
// authority is still working on the order.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderFailed},
	OrderProcessing: {OrderProcessing, OrderIssued, OrderFailed},
	OrderIssued:     {OrderExpired},
}

// Valid reports whether s is a known order state.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderIssued, OrderFailed, OrderExpired:
		return true
	}
	return false
}

// Open reports whether the order is still moving towards a certificate.
// At most one open order may exist per domain and owner.
func (s OrderStatus) Open() bool {
	return s == OrderPending || s == OrderProcessing
}

// CanTransition reports whether an order may move from one state to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubscriptionStatus is the state of a recurring billing agreement.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionActive: {SubscriptionPaused, SubscriptionCancelled},
	SubscriptionPaused: {SubscriptionActive, SubscriptionCancelled},
}

// CanTransitionSubscription reports whether a subscription may move between
// the given states. Cancelled subscriptions are retired for good.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
