package webhooks

import (
	"time"
)

// Event types dispatched on verification lifecycle changes.
const (
	EventVerificationCreated  = "domain_verification.created"
	EventVerificationVerified = "domain_verification.verified"
	EventVerificationFailed   = "domain_verification.failed"
	EventVerificationExpired  = "domain_verification.expired"
	EventVerificationReset    = "domain_verification.reset"
	EventVerificationDeleted  = "domain_verification.deleted"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-DomainVerify-Signature"

// Endpoint is a receiver of webhook events.
type Endpoint struct {
	URL string
	// Secret signs deliveries to URL. Deliveries are unsigned when empty.
	Secret string
}

// Event is the JSON body posted to every endpoint.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
