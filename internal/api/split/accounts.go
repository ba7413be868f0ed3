package split

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/payments"
)

const accountMetadataSource = "split-backend"

// @Summary      Create account session
// @Description  Creates an express connected account for email (unless account_id is given) and opens an embedded onboarding session for it.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        body  body  accountSessionRequest  true  "email or account_id"
// @Success      200  {object}  Envelope  "data: account_id, client_secret"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/create_account_session [post]
func (h *Handlers) CreateAccountSession(c *gin.Context) {
	var req accountSessionRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		params := &payments.CreateAccountParams{
			Email:          strings.TrimSpace(req.Email),
			Country:        h.country(req.Country),
			Metadata:       map[string]string{"source": accountMetadataSource},
			IdempotencyKey: h.keys.AccountKey(req.Email),
		}
		acct, err := h.provider.CreateAccount(ctx, params)
		if err != nil {
			h.remoteFailure(c, "account.create", err)
			return
		}
		accountID = acct.ID
		h.record(c, accountEntry(acct.ID, audit.StatusCreated, params, acct))
	}

	sess, err := h.provider.CreateAccountSession(ctx, accountID)
	if err != nil {
		h.remoteFailure(c, "account_session.create", err)
		return
	}
	h.record(c, sessionEntry(accountID, sess))

	h.ok(c, gin.H{
		"account_id":    accountID,
		"client_secret": sess.ClientSecret,
	})
}

// @Summary      Create prefilled connected account
// @Description  Creates a new express connected account with business profile, individual or company data and payout schedule already filled in, then opens an onboarding session.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        body  body  prefilledAccountRequest  true  "account data"
// @Success      200  {object}  Envelope  "data: account_id, account, client_secret"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/create_connected_account_prefilled [post]
func (h *Handlers) CreateConnectedAccountPrefilled(c *gin.Context) {
	var req prefilledAccountRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	businessType := req.BusinessType
	if businessType == "" {
		businessType = payments.BusinessTypeIndividual
	}
	email := strings.TrimSpace(req.Email)

	params := &payments.CreateAccountParams{
		Email:           email,
		Country:         h.country(req.Country),
		BusinessType:    businessType,
		BusinessProfile: req.BusinessProfile,
		PayoutSchedule:  req.PayoutSchedule,
		Metadata:        map[string]string{"source": accountMetadataSource},
		IdempotencyKey:  h.keys.AccountKey(email),
	}
	switch businessType {
	case payments.BusinessTypeIndividual:
		if req.Individual != nil {
			ind := *req.Individual
			if ind.Email == "" {
				ind.Email = email
			}
			params.Individual = &ind
		}
	case payments.BusinessTypeCompany:
		params.Company = req.Company
	}

	acct, err := h.provider.CreateAccount(ctx, params)
	if err != nil {
		h.remoteFailure(c, "account.create", err)
		return
	}
	h.record(c, accountEntry(acct.ID, audit.StatusCreated, params, acct))

	sess, err := h.provider.CreateAccountSession(ctx, acct.ID)
	if err != nil {
		h.remoteFailure(c, "account_session.create", err)
		return
	}
	h.record(c, sessionEntry(acct.ID, sess))

	h.ok(c, gin.H{
		"account_id":    acct.ID,
		"account":       acct,
		"client_secret": sess.ClientSecret,
	})
}

// @Summary      Prefill account
// @Description  Updates an existing connected account with onboarding data to shorten the hosted KYC flow.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        body  body  prefillRequest  true  "account_id and data to prefill"
// @Success      200  {object}  Envelope  "data: account"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/prefill_account [post]
func (h *Handlers) PrefillAccount(c *gin.Context) {
	var req prefillRequest
	if !h.bind(c, &req) {
		return
	}

	params := &payments.UpdateAccountParams{
		BusinessProfile: req.BusinessProfile,
		Individual:      req.Individual,
		Company:         req.Company,
	}
	acct, err := h.provider.UpdateAccount(c.Request.Context(), req.AccountID, params)
	if err != nil {
		h.remoteFailure(c, "account.update", err)
		return
	}
	h.record(c, accountEntry(acct.ID, audit.StatusUpdated, params, acct))

	h.ok(c, gin.H{"account": acct})
}

// @Summary      Create onboarding link
// @Description  Creates a hosted onboarding link whose refresh and return URLs point back at the onboarding page.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        body  body  accountIDRequest  true  "account_id"
// @Success      200  {object}  Envelope  "data: url"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/create_onboarding_link [post]
func (h *Handlers) CreateOnboardingLink(c *gin.Context) {
	var req accountIDRequest
	if !h.bind(c, &req) {
		return
	}

	params := &payments.AccountLinkParams{
		Account:    req.AccountID,
		Type:       payments.LinkTypeAccountOnboard,
		RefreshURL: h.onboardingURL("refresh", req.AccountID),
		ReturnURL:  h.onboardingURL("return", req.AccountID),
	}
	link, err := h.provider.CreateAccountLink(c.Request.Context(), params)
	if err != nil {
		h.remoteFailure(c, "account_link.create", err)
		return
	}
	h.record(c, audit.Entry{
		ID:               req.AccountID,
		Type:             audit.TypeAccount,
		Status:           audit.StatusLinkCreated,
		ConnectedAccount: strPtr(req.AccountID),
		Request:          params,
		Response:         gin.H{"url": link.URL, "expires_at": link.ExpiresAt},
	})

	h.ok(c, gin.H{"url": link.URL})
}

// @Summary      Account status
// @Description  Retrieves a connected account.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        body  body  accountIDRequest  true  "account_id"
// @Success      200  {object}  Envelope  "data: account"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/account_status [post]
func (h *Handlers) AccountStatus(c *gin.Context) {
	var req accountIDRequest
	if !h.bind(c, &req) {
		return
	}

	acct, err := h.provider.GetAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		h.remoteFailure(c, "account.retrieve", err)
		return
	}
	if h.cfg.Audit.LogReadOperations {
		h.record(c, accountEntry(acct.ID, audit.StatusRetrieved, req, acct))
	}

	h.ok(c, gin.H{"account": acct})
}

// @Summary      Delete account
// @Description  Deletes a connected account. Intended for test mode only.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        body  body  accountIDRequest  true  "account_id"
// @Success      200  {object}  Envelope  "data: deleted {id, deleted}"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/delete_account [post]
func (h *Handlers) DeleteAccount(c *gin.Context) {
	var req accountIDRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	// Resolve first so an unknown id is rejected as such.
	acct, err := h.provider.GetAccount(ctx, req.AccountID)
	if err != nil {
		h.remoteFailure(c, "account.retrieve", err)
		return
	}
	deleted, err := h.provider.DeleteAccount(ctx, acct.ID)
	if err != nil {
		h.remoteFailure(c, "account.delete", err)
		return
	}
	h.record(c, accountEntry(deleted.ID, audit.StatusDeleted, req, deleted))

	h.ok(c, gin.H{"deleted": deleted})
}

func (h *Handlers) country(requested string) string {
	country := strings.TrimSpace(requested)
	if country == "" {
		country = h.cfg.Stripe.DefaultCountry
	}
	return strings.ToUpper(country)
}

func (h *Handlers) onboardingURL(status, accountID string) string {
	base := strings.TrimRight(h.cfg.Server.BaseURL, "/")
	return base + "/split/embedded_onboarding.html?status=" + status + "&account=" + url.QueryEscape(accountID)
}

func accountEntry(accountID, status string, request, response any) audit.Entry {
	return audit.Entry{
		ID:               accountID,
		Type:             audit.TypeAccount,
		Status:           status,
		ConnectedAccount: strPtr(accountID),
		Request:          request,
		Response:         response,
	}
}

// sessionEntry records an onboarding session. The client secret stays out of
// the log.
func sessionEntry(accountID string, sess *payments.AccountSession) audit.Entry {
	return accountEntry(accountID, audit.StatusPending,
		gin.H{"account": accountID, "components": []string{"account_onboarding"}},
		gin.H{"account": sess.Account, "expires_at": sess.ExpiresAt},
	)
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
