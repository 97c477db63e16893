package events

import "context"

// Event types
const (
	EventPaymentCredited       = "payment_credited"
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionTriggered = "subscription_triggered"
)

// StreamSubscriptions carries control events from the API to the worker so
// the engine starts and stops watch loops without polling the database.
const StreamSubscriptions = "travelpay:subscriptions"

// StreamPayments carries settlement notifications for audit consumers.
const StreamPayments = "travelpay:payments"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
