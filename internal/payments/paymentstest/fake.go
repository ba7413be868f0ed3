// Package paymentstest provides an in-memory payments.Provider for tests.
package paymentstest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/split-connect/split-backend/internal/payments"
)

// Operation names used for call counting and error injection.
const (
	OpCreateAccount        = "CreateAccount"
	OpGetAccount           = "GetAccount"
	OpUpdateAccount        = "UpdateAccount"
	OpDeleteAccount        = "DeleteAccount"
	OpCreateAccountSession = "CreateAccountSession"
	OpCreateAccountLink    = "CreateAccountLink"
	OpCreateCustomer       = "CreateCustomer"
	OpCreatePaymentIntent  = "CreatePaymentIntent"
	OpUpdatePaymentIntent  = "UpdatePaymentIntent"
	OpConfirmPaymentIntent = "ConfirmPaymentIntent"
	OpCreatePaymentMethod  = "CreatePaymentMethod"
	OpAttachPaymentMethod  = "AttachPaymentMethod"
	OpCreateTransfer       = "CreateTransfer"
)

// Fake keeps accounts in memory and mimics the provider's idempotency: a
// repeated CreateAccount key returns the account created first.
type Fake struct {
	mu sync.Mutex

	// ConfirmStatus is the status ConfirmPaymentIntent reports. Defaults to
	// "succeeded".
	ConfirmStatus string
	// OmitCharge makes ConfirmPaymentIntent return no latest charge.
	OmitCharge bool

	accounts map[string]*payments.Account
	byKey    map[string]string
	intents  map[string]*payments.PaymentIntent
	errs     map[string]error
	calls    map[string]int
	keys     map[string][]string
	seq      int

	// Parameters received, in call order.
	AccountParams []payments.CreateAccountParams
	Updates       []payments.UpdateAccountParams
	Links         []payments.AccountLinkParams
	Transfers     []payments.TransferParams
}

var _ payments.Provider = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		accounts: map[string]*payments.Account{},
		byKey:    map[string]string{},
		intents:  map[string]*payments.PaymentIntent{},
		errs:     map[string]error{},
		calls:    map[string]int{},
		keys:     map[string][]string{},
	}
}

// FailWith makes every subsequent call to op return err.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

// Reject is shorthand for FailWith with a provider rejection.
func (f *Fake) Reject(op, message string) {
	f.FailWith(op, &payments.RemoteError{
		Op:         op,
		Type:       "invalid_request_error",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	})
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls sums calls across every operation.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// IdempotencyKeys returns the keys sent with op, in call order.
func (f *Fake) IdempotencyKeys(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys[op]...)
}

// AddAccount seeds an existing account.
func (f *Fake) AddAccount(a payments.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.ID] = &a
}

func (f *Fake) begin(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if key != "" {
		f.keys[op] = append(f.keys[op], key)
	}
	return f.errs[op]
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func missing(op, id string) error {
	return &payments.RemoteError{
		Op:         op,
		Type:       "invalid_request_error",
		Code:       "resource_missing",
		Message:    fmt.Sprintf("No such account: '%s'", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func (f *Fake) CreateAccount(_ context.Context, p *payments.CreateAccountParams) (*payments.Account, error) {
	if err := f.begin(OpCreateAccount, p.IdempotencyKey); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AccountParams = append(f.AccountParams, *p)
	if id, ok := f.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		a := *f.accounts[id]
		return &a, nil
	}
	a := &payments.Account{
		ID:           f.nextID("acct"),
		Email:        p.Email,
		Country:      p.Country,
		Type:         payments.AccountTypeExpress,
		BusinessType: p.BusinessType,
	}
	f.accounts[a.ID] = a
	if p.IdempotencyKey != "" {
		f.byKey[p.IdempotencyKey] = a.ID
	}
	out := *a
	return &out, nil
}

func (f *Fake) GetAccount(_ context.Context, id string) (*payments.Account, error) {
	if err := f.begin(OpGetAccount, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, missing(OpGetAccount, id)
	}
	out := *a
	return &out, nil
}

func (f *Fake) UpdateAccount(_ context.Context, id string, p *payments.UpdateAccountParams) (*payments.Account, error) {
	if err := f.begin(OpUpdateAccount, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, *p)
	a, ok := f.accounts[id]
	if !ok {
		return nil, missing(OpUpdateAccount, id)
	}
	if p.Company != nil {
		a.BusinessType = payments.BusinessTypeCompany
	} else if p.Individual != nil {
		a.BusinessType = payments.BusinessTypeIndividual
	}
	out := *a
	return &out, nil
}

func (f *Fake) DeleteAccount(_ context.Context, id string) (*payments.DeletedAccount, error) {
	if err := f.begin(OpDeleteAccount, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return nil, missing(OpDeleteAccount, id)
	}
	delete(f.accounts, id)
	return &payments.DeletedAccount{ID: id, Deleted: true}, nil
}

func (f *Fake) CreateAccountSession(_ context.Context, accountID string) (*payments.AccountSession, error) {
	if err := f.begin(OpCreateAccountSession, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[accountID]; !ok {
		return nil, missing(OpCreateAccountSession, accountID)
	}
	return &payments.AccountSession{
		Account:      accountID,
		ClientSecret: f.nextID("accs_secret"),
	}, nil
}

func (f *Fake) CreateAccountLink(_ context.Context, p *payments.AccountLinkParams) (*payments.AccountLink, error) {
	if err := f.begin(OpCreateAccountLink, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Links = append(f.Links, *p)
	if _, ok := f.accounts[p.Account]; !ok {
		return nil, missing(OpCreateAccountLink, p.Account)
	}
	return &payments.AccountLink{URL: "https://connect.example.test/setup/" + p.Account}, nil
}

func (f *Fake) CreateCustomer(_ context.Context, p *payments.CustomerParams) (*payments.Customer, error) {
	if err := f.begin(OpCreateCustomer, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &payments.Customer{ID: f.nextID("cus"), Email: p.Email}, nil
}

func (f *Fake) CreatePaymentIntent(_ context.Context, p *payments.PaymentIntentParams) (*payments.PaymentIntent, error) {
	if err := f.begin(OpCreatePaymentIntent, p.IdempotencyKey); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pi := &payments.PaymentIntent{
		ID:       f.nextID("pi"),
		Status:   "requires_payment_method",
		Amount:   p.Amount,
		Currency: p.Currency,
		Customer: p.Customer,
	}
	f.intents[pi.ID] = pi
	out := *pi
	return &out, nil
}

func (f *Fake) UpdatePaymentIntent(_ context.Context, piID, pmID string) (*payments.PaymentIntent, error) {
	if err := f.begin(OpUpdatePaymentIntent, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.intents[piID]
	if !ok {
		return nil, missing(OpUpdatePaymentIntent, piID)
	}
	pi.PaymentMethod = pmID
	pi.Status = "requires_confirmation"
	out := *pi
	return &out, nil
}

func (f *Fake) ConfirmPaymentIntent(_ context.Context, piID string) (*payments.PaymentIntent, error) {
	if err := f.begin(OpConfirmPaymentIntent, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.intents[piID]
	if !ok {
		return nil, missing(OpConfirmPaymentIntent, piID)
	}
	pi.Status = payments.PaymentIntentSucceeded
	if f.ConfirmStatus != "" {
		pi.Status = f.ConfirmStatus
	}
	if !f.OmitCharge {
		pi.LatestCharge = "ch_" + pi.ID[len("pi_"):]
	}
	out := *pi
	return &out, nil
}

func (f *Fake) CreatePaymentMethod(_ context.Context, cardToken string) (*payments.PaymentMethod, error) {
	if err := f.begin(OpCreatePaymentMethod, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &payments.PaymentMethod{ID: f.nextID("pm"), Type: "card"}, nil
}

func (f *Fake) AttachPaymentMethod(_ context.Context, pmID, customerID string) (*payments.PaymentMethod, error) {
	if err := f.begin(OpAttachPaymentMethod, ""); err != nil {
		return nil, err
	}
	return &payments.PaymentMethod{ID: pmID, Type: "card", Customer: customerID}, nil
}

func (f *Fake) CreateTransfer(_ context.Context, p *payments.TransferParams) (*payments.Transfer, error) {
	if err := f.begin(OpCreateTransfer, p.IdempotencyKey); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transfers = append(f.Transfers, *p)
	return &payments.Transfer{
		ID:                f.nextID("tr"),
		Amount:            p.Amount,
		Currency:          p.Currency,
		Destination:       p.Destination,
		SourceTransaction: p.SourceTransaction,
		TransferGroup:     p.TransferGroup,
	}, nil
}
