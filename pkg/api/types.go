package api

import "time"

// SubscriptionResponse represents the synced subscription state for a user
type SubscriptionResponse struct {
	UserID            string     `json:"user_id"`
	SubscriptionID    string     `json:"subscription_id"`
	Status            string     `json:"status"`
	PriceID           string     `json:"price_id,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	Entitled          bool       `json:"entitled"`
	ObservedAt        time.Time  `json:"observed_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ErrorResponse is the JSON body for error responses
type ErrorResponse struct {
	Error string `json:"error"`
}
