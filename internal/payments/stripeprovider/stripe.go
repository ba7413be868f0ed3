// Package stripeprovider implements payments.Provider on the Stripe API.
package stripeprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/payments"
	"github.com/split-connect/split-backend/internal/telemetry"
)

// Provider talks to Stripe through a per-instance client, never the SDK's
// package-level key.
type Provider struct {
	api *client.API
}

var _ payments.Provider = (*Provider)(nil)

// New builds a provider from the stripe configuration section. An empty
// APIBaseURL targets the live API; anything else (stripe-mock, a recorder)
// replaces every backend.
func New(cfg *config.StripeConfig, httpClient *http.Client) (*Provider, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 80 * time.Second}
	}

	backendFor := func(kind stripe.SupportedBackend) stripe.Backend {
		bc := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			LeveledLogger:     slogLogger{},
			MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		}
		if cfg.APIBaseURL != "" {
			bc.URL = stripe.String(cfg.APIBaseURL)
		}
		return stripe.GetBackendWithConfig(kind, bc)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     backendFor(stripe.APIBackend),
		Connect: backendFor(stripe.ConnectBackend),
		Uploads: backendFor(stripe.UploadsBackend),
	})
	return &Provider{api: api}, nil
}

// ---- accounts ----

func (p *Provider) CreateAccount(ctx context.Context, in *payments.CreateAccountParams) (*payments.Account, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(payments.AccountTypeExpress),
		Country: stripe.String(in.Country),
		Email:   stripe.String(in.Email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if in.BusinessType != "" {
		params.BusinessType = stripe.String(in.BusinessType)
	}
	params.BusinessProfile = businessProfileParams(in.BusinessProfile)
	params.Individual = individualParams(in.Individual)
	params.Company = companyParams(in.Company)
	if s := in.PayoutSchedule; s != nil {
		params.Settings = &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: payoutScheduleParams(s),
			},
		}
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	start := time.Now()
	acct, err := p.api.Accounts.New(params)
	if err := observe("account.create", start, err); err != nil {
		return nil, err
	}
	return toAccount(acct), nil
}

func (p *Provider) GetAccount(ctx context.Context, accountID string) (*payments.Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	start := time.Now()
	acct, err := p.api.Accounts.GetByID(accountID, params)
	if err := observe("account.retrieve", start, err); err != nil {
		return nil, err
	}
	return toAccount(acct), nil
}

func (p *Provider) UpdateAccount(ctx context.Context, accountID string, in *payments.UpdateAccountParams) (*payments.Account, error) {
	params := &stripe.AccountParams{
		BusinessProfile: businessProfileParams(in.BusinessProfile),
		Individual:      individualParams(in.Individual),
		Company:         companyParams(in.Company),
	}
	params.Context = ctx

	start := time.Now()
	acct, err := p.api.Accounts.Update(accountID, params)
	if err := observe("account.update", start, err); err != nil {
		return nil, err
	}
	return toAccount(acct), nil
}

func (p *Provider) DeleteAccount(ctx context.Context, accountID string) (*payments.DeletedAccount, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	start := time.Now()
	acct, err := p.api.Accounts.Del(accountID, params)
	if err := observe("account.delete", start, err); err != nil {
		return nil, err
	}
	return &payments.DeletedAccount{ID: acct.ID, Deleted: acct.Deleted}, nil
}

func (p *Provider) CreateAccountSession(ctx context.Context, accountID string) (*payments.AccountSession, error) {
	params := &stripe.AccountSessionParams{
		Account: stripe.String(accountID),
		Components: &stripe.AccountSessionComponentsParams{
			AccountOnboarding: &stripe.AccountSessionComponentsAccountOnboardingParams{
				Enabled: stripe.Bool(true),
			},
		},
	}
	params.Context = ctx

	start := time.Now()
	sess, err := p.api.AccountSessions.New(params)
	if err := observe("account_session.create", start, err); err != nil {
		return nil, err
	}
	return &payments.AccountSession{
		Account:      sess.Account,
		ClientSecret: sess.ClientSecret,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

func (p *Provider) CreateAccountLink(ctx context.Context, in *payments.AccountLinkParams) (*payments.AccountLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(in.Account),
		RefreshURL: stripe.String(in.RefreshURL),
		ReturnURL:  stripe.String(in.ReturnURL),
		Type:       stripe.String(in.Type),
	}
	params.Context = ctx

	start := time.Now()
	link, err := p.api.AccountLinks.New(params)
	if err := observe("account_link.create", start, err); err != nil {
		return nil, err
	}
	return &payments.AccountLink{URL: link.URL, ExpiresAt: link.ExpiresAt}, nil
}

// ---- payments ----

func (p *Provider) CreateCustomer(ctx context.Context, in *payments.CustomerParams) (*payments.Customer, error) {
	params := &stripe.CustomerParams{}
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	start := time.Now()
	cus, err := p.api.Customers.New(params)
	if err := observe("customer.create", start, err); err != nil {
		return nil, err
	}
	return &payments.Customer{ID: cus.ID, Email: cus.Email, Raw: rawJSON(cus.LastResponse)}, nil
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, in *payments.PaymentIntentParams) (*payments.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if in.Customer != "" {
		params.Customer = stripe.String(in.Customer)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripe.String(in.TransferGroup)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	start := time.Now()
	pi, err := p.api.PaymentIntents.New(params)
	if err := observe("payment_intent.create", start, err); err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

func (p *Provider) UpdatePaymentIntent(ctx context.Context, paymentIntentID, paymentMethodID string) (*payments.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{PaymentMethod: stripe.String(paymentMethodID)}
	params.Context = ctx

	start := time.Now()
	pi, err := p.api.PaymentIntents.Update(paymentIntentID, params)
	if err := observe("payment_intent.update", start, err); err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

func (p *Provider) ConfirmPaymentIntent(ctx context.Context, paymentIntentID string) (*payments.PaymentIntent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx

	start := time.Now()
	pi, err := p.api.PaymentIntents.Confirm(paymentIntentID, params)
	if err := observe("payment_intent.confirm", start, err); err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

func (p *Provider) CreatePaymentMethod(ctx context.Context, cardToken string) (*payments.PaymentMethod, error) {
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{Token: stripe.String(cardToken)},
	}
	params.Context = ctx

	start := time.Now()
	pm, err := p.api.PaymentMethods.New(params)
	if err := observe("payment_method.create", start, err); err != nil {
		return nil, err
	}
	return toPaymentMethod(pm), nil
}

func (p *Provider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*payments.PaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	start := time.Now()
	pm, err := p.api.PaymentMethods.Attach(paymentMethodID, params)
	if err := observe("payment_method.attach", start, err); err != nil {
		return nil, err
	}
	return toPaymentMethod(pm), nil
}

func (p *Provider) CreateTransfer(ctx context.Context, in *payments.TransferParams) (*payments.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.Amount),
		Currency:    stripe.String(in.Currency),
		Destination: stripe.String(in.Destination),
	}
	if in.SourceTransaction != "" {
		params.SourceTransaction = stripe.String(in.SourceTransaction)
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripe.String(in.TransferGroup)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	start := time.Now()
	tr, err := p.api.Transfers.New(params)
	if err := observe("transfer.create", start, err); err != nil {
		return nil, err
	}
	out := &payments.Transfer{
		ID:            tr.ID,
		Amount:        tr.Amount,
		Currency:      string(tr.Currency),
		TransferGroup: tr.TransferGroup,
		Raw:           rawJSON(tr.LastResponse),
	}
	if tr.Destination != nil {
		out.Destination = tr.Destination.ID
	}
	if tr.SourceTransaction != nil {
		out.SourceTransaction = tr.SourceTransaction.ID
	}
	return out, nil
}

// ---- helpers ----

// observe records latency and converts SDK errors. The returned error is nil
// on success.
func observe(op string, start time.Time, err error) error {
	if err == nil {
		telemetry.ObserveRemoteCall(op, "ok", start)
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		telemetry.ObserveRemoteCall(op, "rejected", start)
		return &payments.RemoteError{
			Op:         op,
			Type:       string(se.Type),
			Code:       string(se.Code),
			Param:      se.Param,
			Message:    se.Msg,
			HTTPStatus: se.HTTPStatusCode,
			RequestID:  se.RequestID,
			Err:        err,
		}
	}
	telemetry.ObserveRemoteCall(op, "error", start)
	return fmt.Errorf("stripe %s: %w", op, err)
}

func rawJSON(resp *stripe.APIResponse) json.RawMessage {
	if resp == nil || len(resp.RawJSON) == 0 {
		return nil
	}
	return json.RawMessage(resp.RawJSON)
}

func toAccount(a *stripe.Account) *payments.Account {
	return &payments.Account{
		ID:               a.ID,
		Email:            a.Email,
		Country:          a.Country,
		Type:             string(a.Type),
		BusinessType:     string(a.BusinessType),
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
		Created:          a.Created,
		Raw:              rawJSON(a.LastResponse),
	}
}

func toPaymentIntent(pi *stripe.PaymentIntent) *payments.PaymentIntent {
	out := &payments.PaymentIntent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Raw:      rawJSON(pi.LastResponse),
	}
	if pi.Customer != nil {
		out.Customer = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethod = pi.PaymentMethod.ID
	}
	if pi.LatestCharge != nil {
		out.LatestCharge = pi.LatestCharge.ID
	}
	return out
}

func toPaymentMethod(pm *stripe.PaymentMethod) *payments.PaymentMethod {
	out := &payments.PaymentMethod{
		ID:   pm.ID,
		Type: string(pm.Type),
		Raw:  rawJSON(pm.LastResponse),
	}
	if pm.Customer != nil {
		out.Customer = pm.Customer.ID
	}
	return out
}

func businessProfileParams(bp *payments.BusinessProfile) *stripe.AccountBusinessProfileParams {
	if bp == nil {
		return nil
	}
	return &stripe.AccountBusinessProfileParams{
		Name:               optString(bp.Name),
		MCC:                optString(bp.MCC),
		ProductDescription: optString(bp.ProductDescription),
		URL:                optString(bp.URL),
	}
}

func individualParams(in *payments.Individual) *stripe.PersonParams {
	if in == nil {
		return nil
	}
	p := &stripe.PersonParams{
		FirstName: optString(in.FirstName),
		LastName:  optString(in.LastName),
		Email:     optString(in.Email),
		Phone:     optString(in.Phone),
		IDNumber:  optString(in.IDNumber),
		Address:   addressParams(in.Address),
	}
	if in.DOB != nil {
		p.DOB = &stripe.PersonDOBParams{
			Day:   stripe.Int64(in.DOB.Day),
			Month: stripe.Int64(in.DOB.Month),
			Year:  stripe.Int64(in.DOB.Year),
		}
	}
	return p
}

func companyParams(c *payments.Company) *stripe.AccountCompanyParams {
	if c == nil {
		return nil
	}
	return &stripe.AccountCompanyParams{
		Name:    optString(c.Name),
		TaxID:   optString(c.TaxID),
		Phone:   optString(c.Phone),
		Address: addressParams(c.Address),
	}
}

func addressParams(a *payments.Address) *stripe.AddressParams {
	if a == nil {
		return nil
	}
	return &stripe.AddressParams{
		Line1:      optString(a.Line1),
		Line2:      optString(a.Line2),
		City:       optString(a.City),
		State:      optString(a.State),
		PostalCode: optString(a.PostalCode),
		Country:    optString(a.Country),
	}
}

func payoutScheduleParams(s *payments.PayoutSchedule) *stripe.AccountSettingsPayoutsScheduleParams {
	p := &stripe.AccountSettingsPayoutsScheduleParams{
		Interval:     optString(s.Interval),
		WeeklyAnchor: optString(s.WeeklyAnchor),
	}
	if s.MonthlyAnchor > 0 {
		p.MonthlyAnchor = stripe.Int64(s.MonthlyAnchor)
	}
	if s.DelayDays > 0 {
		p.DelayDays = stripe.Int64(s.DelayDays)
	}
	return p
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return stripe.String(s)
}

// slogLogger routes SDK diagnostics through the default slog logger.
type slogLogger struct{}

func (slogLogger) Debugf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (slogLogger) Infof(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (slogLogger) Warnf(format string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (slogLogger) Errorf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
