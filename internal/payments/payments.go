// Package payments defines the payment provider boundary used by the request
// handlers: the verbs consumed, the parameters they take and the classified
// error a provider rejection turns into.
package payments

import (
	"context"
	"encoding/json"
	"errors"
)

// Provider is the remote connected-account API.
type Provider interface {
	CreateAccount(ctx context.Context, params *CreateAccountParams) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	UpdateAccount(ctx context.Context, accountID string, params *UpdateAccountParams) (*Account, error)
	DeleteAccount(ctx context.Context, accountID string) (*DeletedAccount, error)

	CreateAccountSession(ctx context.Context, accountID string) (*AccountSession, error)
	CreateAccountLink(ctx context.Context, params *AccountLinkParams) (*AccountLink, error)

	CreateCustomer(ctx context.Context, params *CustomerParams) (*Customer, error)
	CreatePaymentIntent(ctx context.Context, params *PaymentIntentParams) (*PaymentIntent, error)
	UpdatePaymentIntent(ctx context.Context, paymentIntentID, paymentMethodID string) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
	CreatePaymentMethod(ctx context.Context, cardToken string) (*PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error)
	CreateTransfer(ctx context.Context, params *TransferParams) (*Transfer, error)
}

// Account types and onboarding link types accepted by the provider.
const (
	AccountTypeExpress      = "express"
	BusinessTypeIndividual  = "individual"
	BusinessTypeCompany     = "company"
	LinkTypeAccountOnboard  = "account_onboarding"
	PaymentIntentSucceeded  = "succeeded"
	TestCardToken           = "tok_visa"
	CurrencyBRL             = "brl"
	MinimumChargeMinorUnits = 50
	MaximumChargeMinorUnits = 99999999
)

// ---- parameters ----

type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type DOB struct {
	Day   int64 `json:"day"`
	Month int64 `json:"month"`
	Year  int64 `json:"year"`
}

type Individual struct {
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	IDNumber  string   `json:"id_number,omitempty"`
	DOB       *DOB     `json:"dob,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

type Company struct {
	Name    string   `json:"name,omitempty"`
	TaxID   string   `json:"tax_id,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Address *Address `json:"address,omitempty"`
}

type BusinessProfile struct {
	Name               string `json:"name,omitempty"`
	MCC                string `json:"mcc,omitempty"`
	ProductDescription string `json:"product_description,omitempty"`
	URL                string `json:"url,omitempty"`
}

type PayoutSchedule struct {
	Interval      string `json:"interval,omitempty"`
	WeeklyAnchor  string `json:"weekly_anchor,omitempty"`
	MonthlyAnchor int64  `json:"monthly_anchor,omitempty"`
	DelayDays     int64  `json:"delay_days,omitempty"`
}

// CreateAccountParams creates an express connected account with card payment
// and transfer capabilities requested.
type CreateAccountParams struct {
	Email           string            `json:"email"`
	Country         string            `json:"country"`
	BusinessType    string            `json:"business_type,omitempty"`
	BusinessProfile *BusinessProfile  `json:"business_profile,omitempty"`
	Individual      *Individual       `json:"individual,omitempty"`
	Company         *Company          `json:"company,omitempty"`
	PayoutSchedule  *PayoutSchedule   `json:"payout_schedule,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	IdempotencyKey  string            `json:"-"`
}

// UpdateAccountParams prefills onboarding data on an existing account.
type UpdateAccountParams struct {
	BusinessProfile *BusinessProfile `json:"business_profile,omitempty"`
	Individual      *Individual      `json:"individual,omitempty"`
	Company         *Company         `json:"company,omitempty"`
}

// Empty reports whether the update carries no fields.
func (p *UpdateAccountParams) Empty() bool {
	return p == nil || (p.BusinessProfile == nil && p.Individual == nil && p.Company == nil)
}

type AccountLinkParams struct {
	Account    string `json:"account"`
	RefreshURL string `json:"refresh_url"`
	ReturnURL  string `json:"return_url"`
	Type       string `json:"type"`
}

type CustomerParams struct {
	Email       string            `json:"email,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentIntentParams creates a card-only intent that never redirects.
type PaymentIntentParams struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Customer       string            `json:"customer,omitempty"`
	Description    string            `json:"description,omitempty"`
	TransferGroup  string            `json:"transfer_group,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

type TransferParams struct {
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Destination       string            `json:"destination"`
	SourceTransaction string            `json:"source_transaction,omitempty"`
	TransferGroup     string            `json:"transfer_group,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	IdempotencyKey    string            `json:"-"`
}

// ---- resources ----
//
// Each resource keeps the provider's full JSON in Raw when available and
// marshals as that, so responses and audit snapshots carry every field the
// provider returned.

type Account struct {
	ID               string          `json:"id"`
	Email            string          `json:"email,omitempty"`
	Country          string          `json:"country,omitempty"`
	Type             string          `json:"type,omitempty"`
	BusinessType     string          `json:"business_type,omitempty"`
	ChargesEnabled   bool            `json:"charges_enabled"`
	PayoutsEnabled   bool            `json:"payouts_enabled"`
	DetailsSubmitted bool            `json:"details_submitted"`
	Created          int64           `json:"created,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

func (a Account) MarshalJSON() ([]byte, error) {
	type plain Account
	return marshalRaw(a.Raw, plain(a))
}

type DeletedAccount struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type AccountSession struct {
	Account      string `json:"account"`
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type Customer struct {
	ID    string          `json:"id"`
	Email string          `json:"email,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

func (c Customer) MarshalJSON() ([]byte, error) {
	type plain Customer
	return marshalRaw(c.Raw, plain(c))
}

type PaymentIntent struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Customer      string          `json:"customer,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	LatestCharge  string          `json:"latest_charge,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

func (p PaymentIntent) MarshalJSON() ([]byte, error) {
	type plain PaymentIntent
	return marshalRaw(p.Raw, plain(p))
}

type PaymentMethod struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Customer string          `json:"customer,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

func (p PaymentMethod) MarshalJSON() ([]byte, error) {
	type plain PaymentMethod
	return marshalRaw(p.Raw, plain(p))
}

type Transfer struct {
	ID                string          `json:"id"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	Destination       string          `json:"destination"`
	SourceTransaction string          `json:"source_transaction,omitempty"`
	TransferGroup     string          `json:"transfer_group,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

func (t Transfer) MarshalJSON() ([]byte, error) {
	type plain Transfer
	return marshalRaw(t.Raw, plain(t))
}

func marshalRaw(raw json.RawMessage, fallback any) ([]byte, error) {
	if len(raw) > 0 && json.Valid(raw) {
		return raw, nil
	}
	return json.Marshal(fallback)
}

// ---- errors ----

// RemoteError is a rejection reported by the provider.
type RemoteError struct {
	Op         string
	Type       string
	Code       string
	Param      string
	Message    string
	HTTPStatus int
	RequestID  string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "payment provider rejected " + e.Op
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Details returns the non-empty classification fields for an error envelope.
func (e *RemoteError) Details() map[string]any {
	d := map[string]any{}
	if e.Type != "" {
		d["type"] = e.Type
	}
	if e.Code != "" {
		d["code"] = e.Code
	}
	if e.Param != "" {
		d["param"] = e.Param
	}
	if e.RequestID != "" {
		d["request_id"] = e.RequestID
	}
	return d
}

// AsRemote unwraps err to a *RemoteError.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
