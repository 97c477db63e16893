package dto

type CreateSubscriptionRequest struct {
	Target     string         `json:"target"`               // e.g. "border_wait"
	Params     map[string]any `json:"params,omitempty"`     // e.g. {"crossing": "San Ysidro"}
	Condition  string         `json:"condition"`            // e.g. "wait_time_minutes < 20"
	WebhookURL string         `json:"webhook_url"`
	TTLSeconds *int           `json:"ttl_seconds,omitempty"` // defaults to 24h
}

type InvalidateCacheRequest struct {
	Crossing string `json:"crossing,omitempty"` // empty = everything
}
