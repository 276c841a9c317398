package dto

import "time"

// ReserveRequest is the request body for reserving credits for a new publication.
type ReserveRequest struct {
	CampaignID    int64      `json:"campaign_id" binding:"required,gt=0"`
	Credits       int64      `json:"credits" binding:"required,gt=0"`
	PublishAfter  *time.Time `json:"publish_after,omitempty"`
	PublishBefore *time.Time `json:"publish_before,omitempty"`
}

// FanOutRequest lists the recipient connections of a publication.
type FanOutRequest struct {
	ConnectionIDs []int64 `json:"connection_ids" binding:"required,min=1,max=1000,dive,gt=0"`
}

// MarkSentRequest lists broadcasts that were delivered.
type MarkSentRequest struct {
	BroadcastIDs []string `json:"broadcast_ids" binding:"required,min=1,max=1000,dive,uuid"`
}

// MarkSentResponse reports how many broadcasts changed.
type MarkSentResponse struct {
	Updated int64 `json:"updated"`
}

// ViewRequest is the body of a tracked link visit.
type ViewRequest struct {
	DeviceHash string `json:"device_hash" binding:"max=256"`
}

// PaymentWebhookRequest is a payment provider report forwarded by the payment bridge.
// Amounts are decimal strings to keep the provider's precision.
type PaymentWebhookRequest struct {
	Provider            string  `json:"provider" binding:"required,max=50,safe_id"`
	ExternalID          string  `json:"external_id" binding:"required,max=128,safe_id"`
	Status              string  `json:"status" binding:"required,oneof=pending succeeded failed cancelled"`
	Value               string  `json:"value" binding:"required,numeric"`
	ExchangeRate        string  `json:"exchange_rate" binding:"omitempty,numeric"`
	ConvertedValue      string  `json:"converted_value" binding:"required,numeric"`
	Currency            string  `json:"currency" binding:"required,len=3,alpha"`
	Inbound             bool    `json:"inbound"`
	WalletTransactionID *string `json:"wallet_transaction_id,omitempty" binding:"omitempty,uuid"`
}

// PaymentWebhookResponse acknowledges a recorded payment.
type PaymentWebhookResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// BalancesResponse is the response for the balance query.
type BalancesResponse struct {
	WalletID string `json:"wallet_id"`
	Funding  int64  `json:"funding"`
	Rewards  int64  `json:"rewards"`
}

// PageQuery holds list pagination parameters. Callers preset the defaults
// before binding; an explicit zero is rejected.
type PageQuery struct {
	Page int `form:"page" binding:"min=1"`
	Size int `form:"size" binding:"min=1,max=100"`
}
