package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultReceiptPrefix = "RCT-"
	receiptNumberWidth   = 8
)

// ReceiptIssuer numbers receipts and snapshots balances.
//
// The number is Prefix + the zero-padded payment ID, so it is unique and
// traceable to exactly one payment.
type ReceiptIssuer struct {
	Prefix string
}

func (ri *ReceiptIssuer) Number(id PaymentID) string {
	prefix := ri.Prefix
	if prefix == "" {
		prefix = DefaultReceiptPrefix
	}
	return fmt.Sprintf("%s%0*d", prefix, receiptNumberWidth, int64(id))
}

// IssueReceipt builds the receipt for a persisted payment. balanceBF is the
// student balance just before this payment took effect.
func (ri *ReceiptIssuer) IssueReceipt(p Payment, balanceBF decimal.Decimal, now time.Time) (Receipt, error) {
	if p.ID == 0 {
		return Receipt{}, fmt.Errorf("receipt for unsaved payment: %w", ErrPaymentNotFound)
	}
	return Receipt{
		PaymentID: p.ID,
		Number:    ri.Number(p.ID),
		BalanceBF: balanceBF,
		BalanceCF: balanceBF.Sub(p.BalanceEffect()),
		IssuedAt:  now,
	}, nil
}
