package split

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/payments"
)

const (
	simulationCustomerEmail = "test@split-simulation.example"
	simulationSource        = "split-backend-simulation"
	simulationNote          = "This is a simulation using the payment provider's test tokens"
)

// @Summary      Simulate transfer
// @Description  Charges a test card on the platform and transfers the amount to the connected account, funded by that charge. Test mode only. Earlier steps are not undone when a later one fails.
// @Tags         Simulation
// @Accept       json
// @Produce      json
// @Param        body  body  simulateTransferRequest  true  "account_id, amount_brl, optional order_ref"
// @Success      200  {object}  Envelope  "data: simulation, customer_id, payment_intent_id, charge_id, transfer_id, amount, currency, destination, note"
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /split/simulate_transfer [post]
func (h *Handlers) SimulateTransfer(c *gin.Context) {
	var req simulateTransferRequest
	if !h.bind(c, &req) {
		return
	}
	if *req.AmountBRL <= 0 {
		h.invalid(c, "amount_brl must be greater than zero")
		return
	}
	if float64(*req.AmountBRL)*100 > payments.MaximumChargeMinorUnits {
		h.invalid(c, fmt.Sprintf("amount_brl must not exceed %d cents", payments.MaximumChargeMinorUnits))
		return
	}
	amount := req.AmountBRL.MinorUnits()
	if amount < payments.MinimumChargeMinorUnits {
		h.invalid(c, fmt.Sprintf("minimum amount is %d cents", payments.MinimumChargeMinorUnits))
		return
	}

	ctx := c.Request.Context()
	currency := payments.CurrencyBRL
	accountID := req.AccountID

	customer, err := h.provider.CreateCustomer(ctx, &payments.CustomerParams{
		Email:    simulationCustomerEmail,
		Metadata: map[string]string{"source": simulationSource},
	})
	if err != nil {
		h.remoteFailure(c, "customer.create", err)
		return
	}

	pi, err := h.provider.CreatePaymentIntent(ctx, &payments.PaymentIntentParams{
		Amount:   amount,
		Currency: currency,
		Customer: customer.ID,
		Metadata: map[string]string{
			"source":            simulationSource,
			"order_ref":         req.OrderRef,
			"connected_account": accountID,
			"simulation":        "true",
		},
		IdempotencyKey: h.keys.PaymentIntentKey(accountID, amount, req.OrderRef),
	})
	if err != nil {
		h.remoteFailure(c, "payment_intent.create", err)
		return
	}

	pm, err := h.provider.CreatePaymentMethod(ctx, payments.TestCardToken)
	if err != nil {
		h.remoteFailure(c, "payment_method.create", err)
		return
	}
	if _, err := h.provider.AttachPaymentMethod(ctx, pm.ID, customer.ID); err != nil {
		h.remoteFailure(c, "payment_method.attach", err)
		return
	}
	if pi, err = h.provider.UpdatePaymentIntent(ctx, pi.ID, pm.ID); err != nil {
		h.remoteFailure(c, "payment_intent.update", err)
		return
	}
	if pi, err = h.provider.ConfirmPaymentIntent(ctx, pi.ID); err != nil {
		h.remoteFailure(c, "payment_intent.confirm", err)
		return
	}

	if pi.Status != payments.PaymentIntentSucceeded {
		h.fail(c, KindRemoteAPIError, "simulated payment did not succeed", map[string]any{
			"payment_intent_id": pi.ID,
			"status":            pi.Status,
		})
		return
	}
	chargeID := pi.LatestCharge
	if chargeID == "" {
		h.fail(c, KindRemoteAPIError, "payment intent has no charge", map[string]any{
			"payment_intent_id": pi.ID,
		})
		return
	}

	transfer, err := h.provider.CreateTransfer(ctx, &payments.TransferParams{
		Amount:            amount,
		Currency:          currency,
		Destination:       accountID,
		SourceTransaction: chargeID,
		TransferGroup:     req.OrderRef,
		Metadata: map[string]string{
			"source":            simulationSource,
			"payment_intent_id": pi.ID,
			"charge_id":         chargeID,
		},
		IdempotencyKey: h.keys.TransferKey(chargeID, accountID, amount),
	})
	if err != nil {
		h.remoteFailure(c, "transfer.create", err)
		return
	}

	h.record(c, moneyEntry(pi.ID, audit.TypePaymentIntent, audit.StatusSimulated, amount, currency, accountID,
		gin.H{"account_id": accountID, "amount_brl": float64(*req.AmountBRL), "simulation": true},
		gin.H{"payment_intent": gin.H{"id": pi.ID, "status": audit.StatusSimulated}},
	))
	h.record(c, moneyEntry(chargeID, audit.TypeCharge, audit.StatusSucceeded, amount, currency, accountID,
		gin.H{"amount": amount, "simulation": true},
		gin.H{"charge": gin.H{"id": chargeID, "status": audit.StatusSucceeded}},
	))
	h.record(c, moneyEntry(transfer.ID, audit.TypeTransfer, audit.StatusCreated, amount, currency, accountID,
		gin.H{"account_id": accountID, "amount_brl": float64(*req.AmountBRL), "source_transaction": chargeID},
		gin.H{"transfer": gin.H{"id": transfer.ID, "amount": amount}},
	))

	h.ok(c, gin.H{
		"simulation":        true,
		"customer_id":       customer.ID,
		"payment_intent_id": pi.ID,
		"charge_id":         chargeID,
		"transfer_id":       transfer.ID,
		"amount":            amount,
		"currency":          currency,
		"destination":       accountID,
		"note":              simulationNote,
	})
}

func moneyEntry(id string, typ audit.EntryType, status string, amount int64, currency, accountID string, request, response any) audit.Entry {
	return audit.Entry{
		ID:               id,
		Type:             typ,
		Status:           status,
		Amount:           int64Ptr(amount),
		Currency:         strPtr(currency),
		ConnectedAccount: strPtr(accountID),
		Request:          request,
		Response:         response,
	}
}
