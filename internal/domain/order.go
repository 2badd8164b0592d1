package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits capture or bank-transfer verification.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted indicates payment was captured or verified.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed indicates the payment attempt failed. The booking may be paid with a new order.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusRefunded indicates a completed order was refunded by an administrator.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether the status is a known order state.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer change payment outcome.
// Completed orders remain refundable but count as terminal for the one-open-order rule.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	case OrderStatusPending:
		return false
	}
	return false
}

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodStripe       PaymentMethod = "stripe"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodManual       PaymentMethod = "manual"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPayPal, PaymentMethodStripe, PaymentMethodBankTransfer, PaymentMethodManual:
		return true
	}
	return false
}

// PurchaseKind distinguishes what an order pays for.
type PurchaseKind string

const (
	PurchaseKindConsultation PurchaseKind = "consultation"
	PurchaseKindCourse       PurchaseKind = "course"
)

// Purchase is the back-reference from an order to what it pays for.
type Purchase struct {
	Kind      PurchaseKind
	BookingID string
	CourseID  string
	// TargetID is the offering or course id used for coupon scope checks.
	TargetID string
}

// VerificationStatus is the bank-transfer review state.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// TransferEvidence references a receipt uploaded before the order was created.
type TransferEvidence struct {
	ObjectPath  string
	ContentType string
	Size        int64
}

// TransferDetails is the metadata the payer declares about the transfer.
type TransferDetails struct {
	BankName          string
	AccountHolderName string
	TransferDate      time.Time
	ReferenceNumber   string
}

var (
	// ErrTransferEvidenceMissing is returned when a bank transfer has no receipt reference.
	ErrTransferEvidenceMissing = errors.New("bank transfer: evidence is required")
	// ErrTransferDetailsIncomplete is returned when bank name, holder or transfer date is missing.
	ErrTransferDetailsIncomplete = errors.New("bank transfer: bank name, account holder and transfer date are required")
)

// BankTransfer is the method-specific sub-record of a bank-transfer order.
type BankTransfer struct {
	Evidence           TransferEvidence
	Details            TransferDetails
	VerificationStatus VerificationStatus
	RejectionReason    string
	ReviewedBy         string
	ReviewedAt         *time.Time
}

// NewBankTransfer validates the submission and returns a pending sub-record.
func NewBankTransfer(evidence TransferEvidence, details TransferDetails) (BankTransfer, error) {
	if strings.TrimSpace(evidence.ObjectPath) == "" {
		return BankTransfer{}, ErrTransferEvidenceMissing
	}
	if strings.TrimSpace(details.BankName) == "" || strings.TrimSpace(details.AccountHolderName) == "" || details.TransferDate.IsZero() {
		return BankTransfer{}, ErrTransferDetailsIncomplete
	}
	evidence.ObjectPath = strings.TrimSpace(evidence.ObjectPath)
	details.BankName = strings.TrimSpace(details.BankName)
	details.AccountHolderName = strings.TrimSpace(details.AccountHolderName)
	details.ReferenceNumber = strings.TrimSpace(details.ReferenceNumber)
	return BankTransfer{
		Evidence:           evidence,
		Details:            details,
		VerificationStatus: VerificationPending,
	}, nil
}

// Order is the financial record of a single purchase attempt.
type Order struct {
	ID                    string
	OrderNumber           string
	UserID                string
	Purchase              Purchase
	OriginalAmount        decimal.Decimal
	DiscountAmount        decimal.Decimal
	Amount                decimal.Decimal
	Currency              string
	CouponCode            string
	Status                OrderStatus
	PaymentMethod         PaymentMethod
	ExternalTransactionID string
	PaymentIntentID       string
	FailureReason         string
	BankTransfer          *BankTransfer
	CompletedAt           *time.Time
	FailedAt              *time.Time
	RefundedAt            *time.Time
	CancelledAt           *time.Time
	CancelReason          string
	SupersededBy          string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ErrOrderAmountMismatch is returned when amount differs from originalAmount minus discountAmount.
var ErrOrderAmountMismatch = errors.New("order: amount must equal original amount minus discount")

// CheckAmounts enforces amount = originalAmount - discountAmount, non-negative, two decimals.
func (o Order) CheckAmounts() error {
	for _, value := range []decimal.Decimal{o.OriginalAmount, o.DiscountAmount, o.Amount} {
		if err := CheckMoney(value); err != nil {
			return err
		}
	}
	if !o.OriginalAmount.Sub(o.DiscountAmount).Equal(o.Amount) {
		return fmt.Errorf("%w: %s - %s != %s", ErrOrderAmountMismatch,
			FormatMoney(o.OriginalAmount), FormatMoney(o.DiscountAmount), FormatMoney(o.Amount))
	}
	return nil
}

// AwaitingVerification reports whether a bank transfer is still in the admin review queue.
func (o Order) AwaitingVerification() bool {
	return o.PaymentMethod == PaymentMethodBankTransfer &&
		o.Status == OrderStatusPending &&
		o.BankTransfer != nil &&
		o.BankTransfer.VerificationStatus == VerificationPending
}

// TransferRejected reports whether the order is a bank transfer an administrator rejected.
func (o Order) TransferRejected() bool {
	return o.PaymentMethod == PaymentMethodBankTransfer &&
		o.BankTransfer != nil &&
		o.BankTransfer.VerificationStatus == VerificationRejected
}

// CourseEnrollment grants access to a purchased course.
type CourseEnrollment struct {
	UserID    string
	CourseID  string
	OrderID   string
	GrantedAt time.Time
}
