package handlers

import (
	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func buildList[S, T any](page domain.CursorPage[S], build func(S) T) listResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, build(item))
	}
	return listResponse[T]{Items: items, NextPageToken: page.NextPageToken}
}

type slotPayload struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (p *slotPayload) slot() *domain.Slot {
	if p == nil {
		return nil
	}
	return &domain.Slot{Date: p.Date, Time: p.Time}
}

func buildSlot(slot *domain.Slot) *slotPayload {
	if slot == nil || slot.IsZero() {
		return nil
	}
	return &slotPayload{Date: slot.Date, Time: slot.Time}
}

type offeringPayload struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Price           string `json:"price"`
	Currency        string `json:"currency"`
	DurationMinutes int    `json:"duration_minutes"`
	Timezone        string `json:"timezone,omitempty"`
}

type userDetailsPayload struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type reschedulePayload struct {
	Preferred         slotPayload  `json:"preferred"`
	Alternative       *slotPayload `json:"alternative,omitempty"`
	ConfirmedDateTime string       `json:"confirmed_date_time,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	RequestedBy       string       `json:"requested_by"`
	RescheduledAt     string       `json:"rescheduled_at"`
}

type cancellationPayload struct {
	By          string `json:"by"`
	Reason      string `json:"reason,omitempty"`
	CancelledAt string `json:"cancelled_at"`
}

type feedbackPayload struct {
	Rating      int    `json:"rating"`
	Comment     string `json:"comment,omitempty"`
	SubmittedAt string `json:"submitted_at"`
}

type bookingPayload struct {
	ID                string               `json:"id"`
	Reference         string               `json:"reference"`
	UserID            string               `json:"user_id"`
	Offering          offeringPayload      `json:"offering"`
	MeetingMode       string               `json:"meeting_mode"`
	Preferred         slotPayload          `json:"preferred"`
	Alternative       *slotPayload         `json:"alternative,omitempty"`
	ConfirmedDateTime string               `json:"confirmed_date_time,omitempty"`
	Status            string               `json:"status"`
	PaymentStatus     string               `json:"payment_status"`
	ActiveOrderID     string               `json:"active_order_id,omitempty"`
	RescheduledCount  int                  `json:"rescheduled_count"`
	RescheduledFrom   []reschedulePayload  `json:"rescheduled_from,omitempty"`
	Cancellation      *cancellationPayload `json:"cancellation,omitempty"`
	AdminNotes        string               `json:"admin_notes,omitempty"`
	UserDetails       userDetailsPayload   `json:"user_details"`
	Feedback          *feedbackPayload     `json:"feedback,omitempty"`
	ConfirmedAt       string               `json:"confirmed_at,omitempty"`
	CompletedAt       string               `json:"completed_at,omitempty"`
	NoShowAt          string               `json:"no_show_at,omitempty"`
	Version           int64                `json:"version"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at,omitempty"`
}

// buildBookingPayload renders a booking. Admin notes are only exposed to administrators.
func buildBookingPayload(b services.Booking, admin bool) bookingPayload {
	payload := bookingPayload{
		ID:        b.ID,
		Reference: b.Reference,
		UserID:    b.UserID,
		Offering: offeringPayload{
			ID:              b.Offering.OfferingID,
			Title:           b.Offering.Title,
			Price:           domain.FormatMoney(b.Offering.Price),
			Currency:        b.Offering.Currency,
			DurationMinutes: b.Offering.DurationMinutes,
			Timezone:        b.Offering.Timezone,
		},
		MeetingMode:       string(b.MeetingMode),
		Preferred:         slotPayload{Date: b.Preferred.Date, Time: b.Preferred.Time},
		Alternative:       buildSlot(b.Alternative),
		ConfirmedDateTime: formatTimePtr(b.ConfirmedDateTime),
		Status:            string(b.Status),
		PaymentStatus:     string(b.PaymentStatus),
		ActiveOrderID:     b.ActiveOrderID,
		RescheduledCount:  b.RescheduledCount,
		UserDetails: userDetailsPayload{
			FullName: b.UserDetails.FullName,
			Email:    b.UserDetails.Email,
			Phone:    b.UserDetails.Phone,
			Locale:   b.UserDetails.Locale,
			Notes:    b.UserDetails.Notes,
		},
		ConfirmedAt: formatTimePtr(b.ConfirmedAt),
		CompletedAt: formatTimePtr(b.CompletedAt),
		NoShowAt:    formatTimePtr(b.NoShowAt),
		Version:     b.Version,
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}
	if admin {
		payload.AdminNotes = b.AdminNotes
	}
	for _, rec := range b.RescheduledFrom {
		payload.RescheduledFrom = append(payload.RescheduledFrom, reschedulePayload{
			Preferred:         slotPayload{Date: rec.Preferred.Date, Time: rec.Preferred.Time},
			Alternative:       buildSlot(rec.Alternative),
			ConfirmedDateTime: formatTimePtr(rec.ConfirmedDateTime),
			Reason:            rec.Reason,
			RequestedBy:       string(rec.RequestedBy.Type),
			RescheduledAt:     formatTime(rec.RescheduledAt),
		})
	}
	if c := b.Cancellation; c != nil {
		payload.Cancellation = &cancellationPayload{
			By:          string(c.By),
			Reason:      c.Reason,
			CancelledAt: formatTime(c.CancelledAt),
		}
	}
	if f := b.Feedback; f != nil {
		payload.Feedback = &feedbackPayload{
			Rating:      f.Rating,
			Comment:     f.Comment,
			SubmittedAt: formatTime(f.SubmittedAt),
		}
	}
	return payload
}

type bankTransferPayload struct {
	EvidencePath       string `json:"evidence_path"`
	ContentType        string `json:"content_type,omitempty"`
	Size               int64  `json:"size,omitempty"`
	BankName           string `json:"bank_name"`
	AccountHolderName  string `json:"account_holder_name"`
	TransferDate       string `json:"transfer_date"`
	ReferenceNumber    string `json:"reference_number,omitempty"`
	VerificationStatus string `json:"verification_status"`
	RejectionReason    string `json:"rejection_reason,omitempty"`
	ReviewedBy         string `json:"reviewed_by,omitempty"`
	ReviewedAt         string `json:"reviewed_at,omitempty"`
}

type purchasePayload struct {
	Kind      string `json:"kind"`
	BookingID string `json:"booking_id,omitempty"`
	CourseID  string `json:"course_id,omitempty"`
}

type orderPayload struct {
	ID                    string               `json:"id"`
	OrderNumber           string               `json:"order_number"`
	UserID                string               `json:"user_id"`
	Purchase              purchasePayload      `json:"purchase"`
	OriginalAmount        string               `json:"original_amount"`
	DiscountAmount        string               `json:"discount_amount"`
	Amount                string               `json:"amount"`
	Currency              string               `json:"currency"`
	CouponCode            string               `json:"coupon_code,omitempty"`
	Status                string               `json:"status"`
	PaymentMethod         string               `json:"payment_method"`
	ExternalTransactionID string               `json:"external_transaction_id,omitempty"`
	FailureReason         string               `json:"failure_reason,omitempty"`
	BankTransfer          *bankTransferPayload `json:"bank_transfer,omitempty"`
	SupersededBy          string               `json:"superseded_by,omitempty"`
	CancelReason          string               `json:"cancel_reason,omitempty"`
	CompletedAt           string               `json:"completed_at,omitempty"`
	FailedAt              string               `json:"failed_at,omitempty"`
	RefundedAt            string               `json:"refunded_at,omitempty"`
	CancelledAt           string               `json:"cancelled_at,omitempty"`
	Version               int64                `json:"version"`
	CreatedAt             string               `json:"created_at"`
	UpdatedAt             string               `json:"updated_at,omitempty"`
}

func buildOrderPayload(o services.Order) orderPayload {
	payload := orderPayload{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Purchase: purchasePayload{
			Kind:      string(o.Purchase.Kind),
			BookingID: o.Purchase.BookingID,
			CourseID:  o.Purchase.CourseID,
		},
		OriginalAmount:        domain.FormatMoney(o.OriginalAmount),
		DiscountAmount:        domain.FormatMoney(o.DiscountAmount),
		Amount:                domain.FormatMoney(o.Amount),
		Currency:              o.Currency,
		CouponCode:            o.CouponCode,
		Status:                string(o.Status),
		PaymentMethod:         string(o.PaymentMethod),
		ExternalTransactionID: o.ExternalTransactionID,
		FailureReason:         o.FailureReason,
		SupersededBy:          o.SupersededBy,
		CancelReason:          o.CancelReason,
		CompletedAt:           formatTimePtr(o.CompletedAt),
		FailedAt:              formatTimePtr(o.FailedAt),
		RefundedAt:            formatTimePtr(o.RefundedAt),
		CancelledAt:           formatTimePtr(o.CancelledAt),
		Version:               o.Version,
		CreatedAt:             formatTime(o.CreatedAt),
		UpdatedAt:             formatTime(o.UpdatedAt),
	}
	if bt := o.BankTransfer; bt != nil {
		payload.BankTransfer = &bankTransferPayload{
			EvidencePath:       bt.Evidence.ObjectPath,
			ContentType:        bt.Evidence.ContentType,
			Size:               bt.Evidence.Size,
			BankName:           bt.Details.BankName,
			AccountHolderName:  bt.Details.AccountHolderName,
			TransferDate:       bt.Details.TransferDate.UTC().Format("2006-01-02"),
			ReferenceNumber:    bt.Details.ReferenceNumber,
			VerificationStatus: string(bt.VerificationStatus),
			RejectionReason:    bt.RejectionReason,
			ReviewedBy:         bt.ReviewedBy,
			ReviewedAt:         formatTimePtr(bt.ReviewedAt),
		}
	}
	return payload
}

type couponPayload struct {
	Code                   string   `json:"code"`
	Description            string   `json:"description,omitempty"`
	DiscountType           string   `json:"discount_type"`
	DiscountValue          string   `json:"discount_value"`
	MaxUses                *int     `json:"max_uses,omitempty"`
	UsedCount              int      `json:"used_count"`
	ValidFrom              string   `json:"valid_from"`
	ValidUntil             string   `json:"valid_until,omitempty"`
	ApplicableTo           string   `json:"applicable_to"`
	AllowedCourseIDs       []string `json:"allowed_course_ids,omitempty"`
	AllowedConsultationIDs []string `json:"allowed_consultation_ids,omitempty"`
	MinPurchaseAmount      string   `json:"min_purchase_amount"`
	IsActive               bool     `json:"is_active"`
	CreatedBy              string   `json:"created_by,omitempty"`
	Version                int64    `json:"version"`
	CreatedAt              string   `json:"created_at"`
	UpdatedAt              string   `json:"updated_at,omitempty"`
}

func buildCouponPayload(c services.Coupon) couponPayload {
	return couponPayload{
		Code:                   c.Code,
		Description:            c.Description,
		DiscountType:           string(c.DiscountType),
		DiscountValue:          c.DiscountValue.String(),
		MaxUses:                c.MaxUses,
		UsedCount:              c.UsedCount,
		ValidFrom:              formatTime(c.ValidFrom),
		ValidUntil:             formatTimePtr(c.ValidUntil),
		ApplicableTo:           string(c.ApplicableTo),
		AllowedCourseIDs:       c.AllowedCourseIDs,
		AllowedConsultationIDs: c.AllowedConsultationIDs,
		MinPurchaseAmount:      domain.FormatMoney(c.MinPurchaseAmount),
		IsActive:               c.IsActive,
		CreatedBy:              c.CreatedBy,
		Version:                c.Version,
		CreatedAt:              formatTime(c.CreatedAt),
		UpdatedAt:              formatTime(c.UpdatedAt),
	}
}

type auditEntryPayload struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	ActorType  string         `json:"actor_type"`
	Action     string         `json:"action"`
	Severity   string         `json:"severity"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPHash     string         `json:"ip_hash,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func buildAuditEntryPayload(e services.AuditLogEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:         e.ID,
		Actor:      e.Actor,
		ActorType:  string(e.ActorType),
		Action:     string(e.Action),
		Severity:   string(e.Severity),
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Details:    e.Details,
		IPHash:     e.IPHash,
		UserAgent:  e.UserAgent,
		RequestID:  e.RequestID,
		CreatedAt:  formatTime(e.CreatedAt),
	}
}
