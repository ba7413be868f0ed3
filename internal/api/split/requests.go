package split

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/split-connect/split-backend/internal/payments"
)

func init() {
	// Report json names ("account_id") rather than Go field names in
	// validation messages.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

type accountSessionRequest struct {
	Email     string `json:"email" binding:"required_without=AccountID"`
	AccountID string `json:"account_id"`
	Country   string `json:"country"`
}

type prefilledAccountRequest struct {
	Email           string                    `json:"email" binding:"required"`
	AccountID       string                    `json:"account_id" binding:"isdefault"`
	Country         string                    `json:"country"`
	BusinessType    string                    `json:"business_type" binding:"omitempty,oneof=individual company"`
	BusinessProfile *payments.BusinessProfile `json:"business_profile"`
	Individual      *payments.Individual      `json:"individual"`
	Company         *payments.Company         `json:"company"`
	PayoutSchedule  *payments.PayoutSchedule  `json:"payout_schedule"`
}

type prefillRequest struct {
	AccountID       string                    `json:"account_id" binding:"required"`
	BusinessProfile *payments.BusinessProfile `json:"business_profile"`
	Individual      *payments.Individual      `json:"individual"`
	Company         *payments.Company         `json:"company"`
}

type accountIDRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

type simulateTransferRequest struct {
	AccountID string   `json:"account_id" binding:"required"`
	AmountBRL *Decimal `json:"amount_brl" binding:"required"`
	OrderRef  string   `json:"order_ref"`
}

var errInvalidAmount = errors.New("amount_brl must be a number")

// Decimal is a currency amount in major units that accepts either a JSON
// number or a numeric string.
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return errInvalidAmount
		}
		s = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return errInvalidAmount
	}
	*d = Decimal(f)
	return nil
}

// MinorUnits converts to cents, rounding half away from zero.
func (d Decimal) MinorUnits() int64 {
	return int64(math.Round(float64(d) * 100))
}

// bindingMessage turns a bind error into a client-facing message.
func bindingMessage(err error) string {
	if errors.Is(err, errInvalidAmount) {
		return errInvalidAmount.Error()
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "required_without":
			return "email is required to create an account, or account_id to reuse one"
		case "isdefault":
			return fe.Field() + " must not be sent; this endpoint only creates new accounts"
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", fe.Field())
		}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s has the wrong type", typeErr.Field)
	}
	return "request body must be a JSON object"
}
