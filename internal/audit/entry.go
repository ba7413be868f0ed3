// Package audit persists a redacted trail of every payment provider call.
//
// Entries are written to a single append-only document guarded by an
// in-process writer slot and an advisory file lock, so concurrent requests and
// concurrent processes never lose each other's appends. Entries can also be
// mirrored to external destinations through the Shipper interface.
package audit

// EntryType is the kind of remote resource an entry describes.
type EntryType string

const (
	TypeAccount       EntryType = "account"
	TypePaymentIntent EntryType = "payment_intent"
	TypeCharge        EntryType = "charge"
	TypeTransfer      EntryType = "transfer"
)

// Lifecycle labels used by the request handlers.
const (
	StatusCreated     = "created"
	StatusPending     = "pending"
	StatusUpdated     = "updated"
	StatusDeleted     = "deleted"
	StatusLinkCreated = "link_created"
	StatusRetrieved   = "retrieved"
	StatusSimulated   = "simulated"
	StatusSucceeded   = "succeeded"
)

// Entry is one record of a remote API interaction. Nullable fields are
// pointers and serialize as null when unset.
type Entry struct {
	ID                   string    `json:"id"`
	Type                 EntryType `json:"type"`
	Status               string    `json:"status"`
	Amount               *int64    `json:"amount"`
	Currency             *string   `json:"currency"`
	ConnectedAccount     *string   `json:"connected_account"`
	ApplicationFeeAmount *int64    `json:"application_fee_amount"`
	Request              any       `json:"request"`
	Response             any       `json:"response"`
	// WebhookType is reserved for webhook ingestion and always null today.
	WebhookType *string `json:"webhook_type"`
	CreatedAt   string  `json:"created_at"`
}
