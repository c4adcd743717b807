package limits

import (
	"context"

	"github.com/shopspring/decimal"
)

// RiskLimits is a user's risk configuration at one point in time.
// A zero MaxPaymentAmount means payments share MaxTradeAmount.
type RiskLimits struct {
	UserID           string
	MaxTradeAmount   decimal.Decimal
	MaxPaymentAmount decimal.Decimal
}

// PaymentLimit returns the effective ceiling for payments.
func (l RiskLimits) PaymentLimit() decimal.Decimal {
	if l.MaxPaymentAmount.IsPositive() {
		return l.MaxPaymentAmount
	}
	return l.MaxTradeAmount
}

// Store provides per-user risk limits. Limits may be changed out-of-band,
// so callers snapshot them once per verification run.
type Store interface {
	GetLimits(ctx context.Context, userID string) (RiskLimits, error)
}

// StaticStore returns the same limits for every user.
type StaticStore struct {
	defaults RiskLimits
}

// NewStaticStore creates a StaticStore.
func NewStaticStore(maxTrade, maxPayment decimal.Decimal) *StaticStore {
	return &StaticStore{defaults: RiskLimits{MaxTradeAmount: maxTrade, MaxPaymentAmount: maxPayment}}
}

func (s *StaticStore) GetLimits(_ context.Context, userID string) (RiskLimits, error) {
	l := s.defaults
	l.UserID = userID
	return l, nil
}
