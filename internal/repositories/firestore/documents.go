package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
)

const (
	bookingsCollection      = "bookings"
	bookingGuardsCollection = "activeBookingGuards"
	ordersCollection        = "orders"
	couponsCollection       = "coupons"
	consultationsCollection = "consultations"
	coursesCollection       = "courses"
	enrollmentsCollection   = "courseEnrollments"
	auditLogsCollection     = "auditLogs"
)

// Money is persisted as a fixed two decimal string so no float rounding ever reaches the ledger.
func encodeMoney(value decimal.Decimal) string {
	return domain.FormatMoney(value)
}

func decodeMoney(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode %s: %w", field, err)
	}
	return value, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

type slotDocument struct {
	Date string `firestore:"date"`
	Time string `firestore:"time"`
}

func encodeSlot(slot *domain.Slot) *slotDocument {
	if slot == nil {
		return nil
	}
	return &slotDocument{Date: slot.Date, Time: slot.Time}
}

func decodeSlot(doc *slotDocument) *domain.Slot {
	if doc == nil {
		return nil
	}
	return &domain.Slot{Date: doc.Date, Time: doc.Time}
}

type actorDocument struct {
	ID   string `firestore:"id"`
	Type string `firestore:"type"`
}

type rescheduleDocument struct {
	Preferred         slotDocument  `firestore:"preferred"`
	Alternative       *slotDocument `firestore:"alternative,omitempty"`
	ConfirmedDateTime *time.Time    `firestore:"confirmedDateTime,omitempty"`
	Reason            string        `firestore:"reason,omitempty"`
	RequestedBy       actorDocument `firestore:"requestedBy"`
	RescheduledAt     time.Time     `firestore:"rescheduledAt"`
}

type cancellationDocument struct {
	By          string    `firestore:"by"`
	ActorID     string    `firestore:"actorId"`
	Reason      string    `firestore:"reason,omitempty"`
	CancelledAt time.Time `firestore:"cancelledAt"`
}

type feedbackDocument struct {
	Rating      int       `firestore:"rating"`
	Comment     string    `firestore:"comment,omitempty"`
	SubmittedAt time.Time `firestore:"submittedAt"`
}

type userDetailsDocument struct {
	FullName string `firestore:"fullName"`
	Email    string `firestore:"email"`
	Phone    string `firestore:"phone,omitempty"`
	Locale   string `firestore:"locale,omitempty"`
	Notes    string `firestore:"notes,omitempty"`
}

type offeringSnapshotDocument struct {
	OfferingID      string `firestore:"offeringId"`
	Title           string `firestore:"title"`
	Price           string `firestore:"price"`
	Currency        string `firestore:"currency"`
	DurationMinutes int    `firestore:"durationMinutes"`
	Timezone        string `firestore:"timezone,omitempty"`
}

type bookingDocument struct {
	Reference          string                   `firestore:"reference"`
	UserID             string                   `firestore:"userId"`
	OfferingID         string                   `firestore:"offeringId"`
	Offering           offeringSnapshotDocument `firestore:"offering"`
	MeetingMode        string                   `firestore:"meetingMode"`
	Preferred          slotDocument             `firestore:"preferred"`
	Alternative        *slotDocument            `firestore:"alternative,omitempty"`
	ConfirmedDateTime  *time.Time               `firestore:"confirmedDateTime,omitempty"`
	SessionEndsAt      *time.Time               `firestore:"sessionEndsAt,omitempty"`
	Status             string                   `firestore:"status"`
	PaymentStatus      string                   `firestore:"paymentStatus"`
	ActiveOrderID      string                   `firestore:"activeOrderId,omitempty"`
	RescheduledCount   int                      `firestore:"rescheduledCount"`
	RescheduledFrom    []rescheduleDocument     `firestore:"rescheduledFrom,omitempty"`
	Cancellation       *cancellationDocument    `firestore:"cancellation,omitempty"`
	AdminNotes         string                   `firestore:"adminNotes,omitempty"`
	UserDetails        userDetailsDocument      `firestore:"userDetails"`
	Feedback           *feedbackDocument        `firestore:"feedback,omitempty"`
	PaymentCompletedAt *time.Time               `firestore:"paymentCompletedAt,omitempty"`
	ConfirmedAt        *time.Time               `firestore:"confirmedAt,omitempty"`
	ConfirmedBy        string                   `firestore:"confirmedBy,omitempty"`
	CompletedAt        *time.Time               `firestore:"completedAt,omitempty"`
	NoShowAt           *time.Time               `firestore:"noShowAt,omitempty"`
	Version            int64                    `firestore:"version"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
}

func encodeBooking(b domain.Booking) bookingDocument {
	doc := bookingDocument{
		Reference:  b.Reference,
		UserID:     b.UserID,
		OfferingID: b.Offering.OfferingID,
		Offering: offeringSnapshotDocument{
			OfferingID:      b.Offering.OfferingID,
			Title:           b.Offering.Title,
			Price:           encodeMoney(b.Offering.Price),
			Currency:        b.Offering.Currency,
			DurationMinutes: b.Offering.DurationMinutes,
			Timezone:        b.Offering.Timezone,
		},
		MeetingMode:       string(b.MeetingMode),
		Preferred:         slotDocument{Date: b.Preferred.Date, Time: b.Preferred.Time},
		Alternative:       encodeSlot(b.Alternative),
		ConfirmedDateTime: utcPtr(b.ConfirmedDateTime),
		Status:            string(b.Status),
		PaymentStatus:     string(b.PaymentStatus),
		ActiveOrderID:     b.ActiveOrderID,
		RescheduledCount:  b.RescheduledCount,
		AdminNotes:        b.AdminNotes,
		UserDetails: userDetailsDocument{
			FullName: b.UserDetails.FullName,
			Email:    b.UserDetails.Email,
			Phone:    b.UserDetails.Phone,
			Locale:   b.UserDetails.Locale,
			Notes:    b.UserDetails.Notes,
		},
		PaymentCompletedAt: utcPtr(b.PaymentCompletedAt),
		ConfirmedAt:        utcPtr(b.ConfirmedAt),
		ConfirmedBy:        b.ConfirmedBy,
		CompletedAt:        utcPtr(b.CompletedAt),
		NoShowAt:           utcPtr(b.NoShowAt),
		Version:            b.Version,
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
	}
	// Only confirmed sessions carry an end; the sweep query filters on it.
	if end, ok := b.SessionEnd(); ok && b.Status == domain.BookingStatusConfirmed {
		end = end.UTC()
		doc.SessionEndsAt = &end
	}
	for _, r := range b.RescheduledFrom {
		doc.RescheduledFrom = append(doc.RescheduledFrom, rescheduleDocument{
			Preferred:         slotDocument{Date: r.Preferred.Date, Time: r.Preferred.Time},
			Alternative:       encodeSlot(r.Alternative),
			ConfirmedDateTime: utcPtr(r.ConfirmedDateTime),
			Reason:            r.Reason,
			RequestedBy:       actorDocument{ID: r.RequestedBy.ID, Type: string(r.RequestedBy.Type)},
			RescheduledAt:     r.RescheduledAt.UTC(),
		})
	}
	if c := b.Cancellation; c != nil {
		doc.Cancellation = &cancellationDocument{By: string(c.By), ActorID: c.ActorID, Reason: c.Reason, CancelledAt: c.CancelledAt.UTC()}
	}
	if f := b.Feedback; f != nil {
		doc.Feedback = &feedbackDocument{Rating: f.Rating, Comment: f.Comment, SubmittedAt: f.SubmittedAt.UTC()}
	}
	return doc
}

func decodeBooking(id string, doc bookingDocument) (domain.Booking, error) {
	price, err := decodeMoney("offering.price", doc.Offering.Price)
	if err != nil {
		return domain.Booking{}, err
	}
	b := domain.Booking{
		ID:        id,
		Reference: doc.Reference,
		UserID:    doc.UserID,
		Offering: domain.OfferingSnapshot{
			OfferingID:      doc.Offering.OfferingID,
			Title:           doc.Offering.Title,
			Price:           price,
			Currency:        doc.Offering.Currency,
			DurationMinutes: doc.Offering.DurationMinutes,
			Timezone:        doc.Offering.Timezone,
		},
		MeetingMode:       domain.MeetingMode(doc.MeetingMode),
		Preferred:         domain.Slot{Date: doc.Preferred.Date, Time: doc.Preferred.Time},
		Alternative:       decodeSlot(doc.Alternative),
		ConfirmedDateTime: utcPtr(doc.ConfirmedDateTime),
		Status:            domain.BookingStatus(doc.Status),
		PaymentStatus:     domain.BookingPaymentStatus(doc.PaymentStatus),
		ActiveOrderID:     doc.ActiveOrderID,
		RescheduledCount:  doc.RescheduledCount,
		AdminNotes:        doc.AdminNotes,
		UserDetails: domain.UserDetails{
			FullName: doc.UserDetails.FullName,
			Email:    doc.UserDetails.Email,
			Phone:    doc.UserDetails.Phone,
			Locale:   doc.UserDetails.Locale,
			Notes:    doc.UserDetails.Notes,
		},
		PaymentCompletedAt: utcPtr(doc.PaymentCompletedAt),
		ConfirmedAt:        utcPtr(doc.ConfirmedAt),
		ConfirmedBy:        doc.ConfirmedBy,
		CompletedAt:        utcPtr(doc.CompletedAt),
		NoShowAt:           utcPtr(doc.NoShowAt),
		Version:            doc.Version,
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
	}
	for _, r := range doc.RescheduledFrom {
		b.RescheduledFrom = append(b.RescheduledFrom, domain.RescheduleRecord{
			Preferred:         domain.Slot{Date: r.Preferred.Date, Time: r.Preferred.Time},
			Alternative:       decodeSlot(r.Alternative),
			ConfirmedDateTime: utcPtr(r.ConfirmedDateTime),
			Reason:            r.Reason,
			RequestedBy:       domain.Actor{ID: r.RequestedBy.ID, Type: domain.ActorType(r.RequestedBy.Type)},
			RescheduledAt:     r.RescheduledAt.UTC(),
		})
	}
	if c := doc.Cancellation; c != nil {
		b.Cancellation = &domain.Cancellation{By: domain.CancelledBy(c.By), ActorID: c.ActorID, Reason: c.Reason, CancelledAt: c.CancelledAt.UTC()}
	}
	if f := doc.Feedback; f != nil {
		b.Feedback = &domain.Feedback{Rating: f.Rating, Comment: f.Comment, SubmittedAt: f.SubmittedAt.UTC()}
	}
	return b, nil
}

type bookingGuardDocument struct {
	BookingID  string    `firestore:"bookingId"`
	UserID     string    `firestore:"userId"`
	OfferingID string    `firestore:"offeringId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type bankTransferDocument struct {
	EvidencePath       string     `firestore:"evidencePath"`
	EvidenceType       string     `firestore:"evidenceContentType,omitempty"`
	EvidenceSize       int64      `firestore:"evidenceSize,omitempty"`
	BankName           string     `firestore:"bankName"`
	AccountHolderName  string     `firestore:"accountHolderName"`
	TransferDate       time.Time  `firestore:"transferDate"`
	ReferenceNumber    string     `firestore:"referenceNumber,omitempty"`
	VerificationStatus string     `firestore:"verificationStatus"`
	RejectionReason    string     `firestore:"rejectionReason,omitempty"`
	ReviewedBy         string     `firestore:"reviewedBy,omitempty"`
	ReviewedAt         *time.Time `firestore:"reviewedAt,omitempty"`
}

type orderDocument struct {
	OrderNumber           string                `firestore:"orderNumber"`
	UserID                string                `firestore:"userId"`
	PurchaseKind          string                `firestore:"purchaseKind"`
	BookingID             string                `firestore:"bookingId,omitempty"`
	CourseID              string                `firestore:"courseId,omitempty"`
	TargetID              string                `firestore:"targetId"`
	OriginalAmount        string                `firestore:"originalAmount"`
	DiscountAmount        string                `firestore:"discountAmount"`
	Amount                string                `firestore:"amount"`
	Currency              string                `firestore:"currency"`
	CouponCode            string                `firestore:"couponCode,omitempty"`
	Status                string                `firestore:"status"`
	PaymentMethod         string                `firestore:"paymentMethod"`
	VerificationStatus    string                `firestore:"verificationStatus,omitempty"`
	ExternalTransactionID string                `firestore:"externalTransactionId,omitempty"`
	PaymentIntentID       string                `firestore:"paymentIntentId,omitempty"`
	FailureReason         string                `firestore:"failureReason,omitempty"`
	BankTransfer          *bankTransferDocument `firestore:"bankTransfer,omitempty"`
	CompletedAt           *time.Time            `firestore:"completedAt,omitempty"`
	FailedAt              *time.Time            `firestore:"failedAt,omitempty"`
	RefundedAt            *time.Time            `firestore:"refundedAt,omitempty"`
	CancelledAt           *time.Time            `firestore:"cancelledAt,omitempty"`
	CancelReason          string                `firestore:"cancelReason,omitempty"`
	SupersededBy          string                `firestore:"supersededBy,omitempty"`
	Version               int64                 `firestore:"version"`
	CreatedAt             time.Time             `firestore:"createdAt"`
	UpdatedAt             time.Time             `firestore:"updatedAt"`
}

func encodeOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:           o.OrderNumber,
		UserID:                o.UserID,
		PurchaseKind:          string(o.Purchase.Kind),
		BookingID:             o.Purchase.BookingID,
		CourseID:              o.Purchase.CourseID,
		TargetID:              o.Purchase.TargetID,
		OriginalAmount:        encodeMoney(o.OriginalAmount),
		DiscountAmount:        encodeMoney(o.DiscountAmount),
		Amount:                encodeMoney(o.Amount),
		Currency:              o.Currency,
		CouponCode:            o.CouponCode,
		Status:                string(o.Status),
		PaymentMethod:         string(o.PaymentMethod),
		ExternalTransactionID: o.ExternalTransactionID,
		PaymentIntentID:       o.PaymentIntentID,
		FailureReason:         o.FailureReason,
		CompletedAt:           utcPtr(o.CompletedAt),
		FailedAt:              utcPtr(o.FailedAt),
		RefundedAt:            utcPtr(o.RefundedAt),
		CancelledAt:           utcPtr(o.CancelledAt),
		CancelReason:          o.CancelReason,
		SupersededBy:          o.SupersededBy,
		Version:               o.Version,
		CreatedAt:             o.CreatedAt.UTC(),
		UpdatedAt:             o.UpdatedAt.UTC(),
	}
	if t := o.BankTransfer; t != nil {
		doc.VerificationStatus = string(t.VerificationStatus)
		doc.BankTransfer = &bankTransferDocument{
			EvidencePath:       t.Evidence.ObjectPath,
			EvidenceType:       t.Evidence.ContentType,
			EvidenceSize:       t.Evidence.Size,
			BankName:           t.Details.BankName,
			AccountHolderName:  t.Details.AccountHolderName,
			TransferDate:       t.Details.TransferDate.UTC(),
			ReferenceNumber:    t.Details.ReferenceNumber,
			VerificationStatus: string(t.VerificationStatus),
			RejectionReason:    t.RejectionReason,
			ReviewedBy:         t.ReviewedBy,
			ReviewedAt:         utcPtr(t.ReviewedAt),
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	original, err := decodeMoney("originalAmount", doc.OriginalAmount)
	if err != nil {
		return domain.Order{}, err
	}
	discount, err := decodeMoney("discountAmount", doc.DiscountAmount)
	if err != nil {
		return domain.Order{}, err
	}
	amount, err := decodeMoney("amount", doc.Amount)
	if err != nil {
		return domain.Order{}, err
	}
	o := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Purchase: domain.Purchase{
			Kind:      domain.PurchaseKind(doc.PurchaseKind),
			BookingID: doc.BookingID,
			CourseID:  doc.CourseID,
			TargetID:  doc.TargetID,
		},
		OriginalAmount:        original,
		DiscountAmount:        discount,
		Amount:                amount,
		Currency:              doc.Currency,
		CouponCode:            doc.CouponCode,
		Status:                domain.OrderStatus(doc.Status),
		PaymentMethod:         domain.PaymentMethod(doc.PaymentMethod),
		ExternalTransactionID: doc.ExternalTransactionID,
		PaymentIntentID:       doc.PaymentIntentID,
		FailureReason:         doc.FailureReason,
		CompletedAt:           utcPtr(doc.CompletedAt),
		FailedAt:              utcPtr(doc.FailedAt),
		RefundedAt:            utcPtr(doc.RefundedAt),
		CancelledAt:           utcPtr(doc.CancelledAt),
		CancelReason:          doc.CancelReason,
		SupersededBy:          doc.SupersededBy,
		Version:               doc.Version,
		CreatedAt:             doc.CreatedAt.UTC(),
		UpdatedAt:             doc.UpdatedAt.UTC(),
	}
	if t := doc.BankTransfer; t != nil {
		o.BankTransfer = &domain.BankTransfer{
			Evidence: domain.TransferEvidence{ObjectPath: t.EvidencePath, ContentType: t.EvidenceType, Size: t.EvidenceSize},
			Details: domain.TransferDetails{
				BankName:          t.BankName,
				AccountHolderName: t.AccountHolderName,
				TransferDate:      t.TransferDate.UTC(),
				ReferenceNumber:   t.ReferenceNumber,
			},
			VerificationStatus: domain.VerificationStatus(t.VerificationStatus),
			RejectionReason:    t.RejectionReason,
			ReviewedBy:         t.ReviewedBy,
			ReviewedAt:         utcPtr(t.ReviewedAt),
		}
	}
	return o, nil
}

type redemptionDocument struct {
	UserID  string    `firestore:"userId"`
	OrderID string    `firestore:"orderId"`
	UsedAt  time.Time `firestore:"usedAt"`
}

type couponDocument struct {
	Code                   string               `firestore:"code"`
	Description            string               `firestore:"description,omitempty"`
	DiscountType           string               `firestore:"discountType"`
	DiscountValue          string               `firestore:"discountValue"`
	MaxUses                *int                 `firestore:"maxUses,omitempty"`
	UsedCount              int                  `firestore:"usedCount"`
	Redemptions            []redemptionDocument `firestore:"redemptions"`
	ValidFrom              time.Time            `firestore:"validFrom"`
	ValidUntil             *time.Time           `firestore:"validUntil,omitempty"`
	ApplicableTo           string               `firestore:"applicableTo"`
	AllowedCourseIDs       []string             `firestore:"allowedCourseIds,omitempty"`
	AllowedConsultationIDs []string             `firestore:"allowedConsultationIds,omitempty"`
	MinPurchaseAmount      string               `firestore:"minPurchaseAmount"`
	IsActive               bool                 `firestore:"isActive"`
	CreatedBy              string               `firestore:"createdBy,omitempty"`
	Version                int64                `firestore:"version"`
	CreatedAt              time.Time            `firestore:"createdAt"`
	UpdatedAt              time.Time            `firestore:"updatedAt"`
}

func encodeCoupon(c domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:                   c.Code,
		Description:            c.Description,
		DiscountType:           string(c.DiscountType),
		DiscountValue:          c.DiscountValue.String(),
		MaxUses:                c.MaxUses,
		UsedCount:              c.UsedCount,
		Redemptions:            make([]redemptionDocument, 0, len(c.Redemptions)),
		ValidFrom:              c.ValidFrom.UTC(),
		ValidUntil:             utcPtr(c.ValidUntil),
		ApplicableTo:           string(c.ApplicableTo),
		AllowedCourseIDs:       c.AllowedCourseIDs,
		AllowedConsultationIDs: c.AllowedConsultationIDs,
		MinPurchaseAmount:      encodeMoney(c.MinPurchaseAmount),
		IsActive:               c.IsActive,
		CreatedBy:              c.CreatedBy,
		Version:                c.Version,
		CreatedAt:              c.CreatedAt.UTC(),
		UpdatedAt:              c.UpdatedAt.UTC(),
	}
	for _, r := range c.Redemptions {
		doc.Redemptions = append(doc.Redemptions, redemptionDocument{UserID: r.UserID, OrderID: r.OrderID, UsedAt: r.UsedAt.UTC()})
	}
	return doc
}

func decodeCoupon(doc couponDocument) (domain.Coupon, error) {
	value, err := decodeMoney("discountValue", doc.DiscountValue)
	if err != nil {
		return domain.Coupon{}, err
	}
	minimum, err := decodeMoney("minPurchaseAmount", doc.MinPurchaseAmount)
	if err != nil {
		return domain.Coupon{}, err
	}
	c := domain.Coupon{
		ID:                     doc.Code,
		Code:                   doc.Code,
		Description:            doc.Description,
		DiscountType:           domain.DiscountType(doc.DiscountType),
		DiscountValue:          value,
		MaxUses:                doc.MaxUses,
		UsedCount:              doc.UsedCount,
		ValidFrom:              doc.ValidFrom.UTC(),
		ValidUntil:             utcPtr(doc.ValidUntil),
		ApplicableTo:           domain.CouponScope(doc.ApplicableTo),
		AllowedCourseIDs:       doc.AllowedCourseIDs,
		AllowedConsultationIDs: doc.AllowedConsultationIDs,
		MinPurchaseAmount:      minimum,
		IsActive:               doc.IsActive,
		CreatedBy:              doc.CreatedBy,
		Version:                doc.Version,
		CreatedAt:              doc.CreatedAt.UTC(),
		UpdatedAt:              doc.UpdatedAt.UTC(),
	}
	for _, r := range doc.Redemptions {
		c.Redemptions = append(c.Redemptions, domain.CouponRedemption{UserID: r.UserID, OrderID: r.OrderID, UsedAt: r.UsedAt.UTC()})
	}
	return c, nil
}

type availabilityDocument struct {
	Weekday int    `firestore:"weekday"`
	Start   string `firestore:"start"`
	End     string `firestore:"end"`
}

type consultationDocument struct {
	Title           string                 `firestore:"title"`
	Price           string                 `firestore:"price"`
	Currency        string                 `firestore:"currency"`
	DurationMinutes int                    `firestore:"durationMinutes"`
	MeetingModes    []string               `firestore:"meetingModes"`
	Availability    []availabilityDocument `firestore:"availability"`
	Timezone        string                 `firestore:"timezone"`
	IsActive        bool                   `firestore:"isActive"`
}

func decodeConsultation(id string, doc consultationDocument) (domain.ConsultationOffering, error) {
	price, err := decodeMoney("price", doc.Price)
	if err != nil {
		return domain.ConsultationOffering{}, err
	}
	offering := domain.ConsultationOffering{
		ID:              id,
		Title:           doc.Title,
		Price:           price,
		Currency:        doc.Currency,
		DurationMinutes: doc.DurationMinutes,
		Timezone:        doc.Timezone,
		IsActive:        doc.IsActive,
	}
	for _, mode := range doc.MeetingModes {
		offering.MeetingModes = append(offering.MeetingModes, domain.MeetingMode(mode))
	}
	for _, w := range doc.Availability {
		offering.Availability = append(offering.Availability, domain.AvailabilityWindow{
			Weekday: time.Weekday(w.Weekday),
			Start:   w.Start,
			End:     w.End,
		})
	}
	return offering, nil
}

type courseDocument struct {
	Title    string `firestore:"title"`
	Price    string `firestore:"price"`
	Currency string `firestore:"currency"`
	IsActive bool   `firestore:"isPublished"`
}

type enrollmentDocument struct {
	UserID    string    `firestore:"userId"`
	CourseID  string    `firestore:"courseId"`
	OrderID   string    `firestore:"orderId"`
	GrantedAt time.Time `firestore:"grantedAt"`
}

type auditLogDocument struct {
	Actor      string         `firestore:"actor"`
	ActorType  string         `firestore:"actorType"`
	Action     string         `firestore:"action"`
	TargetType string         `firestore:"targetType"`
	TargetID   string         `firestore:"targetId"`
	Details    map[string]any `firestore:"details,omitempty"`
	Severity   string         `firestore:"severity"`
	IPHash     string         `firestore:"ipHash,omitempty"`
	UserAgent  string         `firestore:"userAgent,omitempty"`
	RequestID  string         `firestore:"requestId,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

func encodeAuditLog(e domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		Actor:      e.Actor,
		ActorType:  string(e.ActorType),
		Action:     string(e.Action),
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Details:    e.Details,
		Severity:   string(e.Severity),
		IPHash:     e.IPHash,
		UserAgent:  e.UserAgent,
		RequestID:  e.RequestID,
		CreatedAt:  e.CreatedAt.UTC(),
	}
}

func decodeAuditLog(id string, doc auditLogDocument) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:         id,
		Actor:      doc.Actor,
		ActorType:  domain.ActorType(doc.ActorType),
		Action:     domain.AuditAction(doc.Action),
		TargetType: doc.TargetType,
		TargetID:   doc.TargetID,
		Details:    doc.Details,
		Severity:   domain.AuditSeverity(doc.Severity),
		IPHash:     doc.IPHash,
		UserAgent:  doc.UserAgent,
		RequestID:  doc.RequestID,
		CreatedAt:  doc.CreatedAt.UTC(),
	}
}
