package domain

import "time"

// AuditAction is the closed set of audited mutations and security events.
type AuditAction string

const (
	AuditBookingCreated           AuditAction = "booking_created"
	AuditBookingConfirmed         AuditAction = "booking_confirmed"
	AuditBookingRescheduled       AuditAction = "booking_rescheduled"
	AuditBookingCancelled         AuditAction = "booking_cancelled"
	AuditBookingCompleted         AuditAction = "booking_completed"
	AuditBookingNoShow            AuditAction = "booking_no_show"
	AuditBookingNotesUpdated      AuditAction = "booking_notes_updated"
	AuditBookingFeedbackSubmitted AuditAction = "booking_feedback_submitted"
	AuditOrderCreated             AuditAction = "order_created"
	AuditOrderCompleted           AuditAction = "order_completed"
	AuditOrderFailed              AuditAction = "order_failed"
	AuditOrderRefunded            AuditAction = "order_refunded"
	AuditOrderCancelled           AuditAction = "order_cancelled"
	AuditBankTransferVerified     AuditAction = "bank_transfer_verified"
	AuditBankTransferRejected     AuditAction = "bank_transfer_rejected"
	AuditCouponCreated            AuditAction = "coupon_created"
	AuditCouponUpdated            AuditAction = "coupon_updated"
	AuditCouponDeactivated        AuditAction = "coupon_deactivated"
	AuditCouponRedeemed           AuditAction = "coupon_redeemed"
	AuditCourseAccessGranted      AuditAction = "course_access_granted"
	AuditUserRoleChanged          AuditAction = "user_role_changed"
	AuditUnauthorizedAccess       AuditAction = "unauthorized_access_attempt"
	AuditIntegrityViolation       AuditAction = "integrity_violation"
)

// AuditSeverity classifies audit entries for compliance review.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// Valid reports whether the severity is known.
func (s AuditSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

var auditSeverities = map[AuditAction]AuditSeverity{
	AuditBookingCreated:           SeverityLow,
	AuditBookingNotesUpdated:      SeverityLow,
	AuditBookingFeedbackSubmitted: SeverityLow,
	AuditOrderCreated:             SeverityLow,
	AuditCouponRedeemed:           SeverityLow,
	AuditBookingConfirmed:         SeverityMedium,
	AuditBookingRescheduled:       SeverityMedium,
	AuditBookingCompleted:         SeverityMedium,
	AuditBookingNoShow:            SeverityMedium,
	AuditOrderCompleted:           SeverityMedium,
	AuditOrderFailed:              SeverityMedium,
	AuditCouponCreated:            SeverityMedium,
	AuditCouponUpdated:            SeverityMedium,
	AuditCourseAccessGranted:      SeverityMedium,
	AuditBookingCancelled:         SeverityHigh,
	AuditOrderRefunded:            SeverityHigh,
	AuditOrderCancelled:           SeverityHigh,
	AuditBankTransferVerified:     SeverityHigh,
	AuditBankTransferRejected:     SeverityHigh,
	AuditCouponDeactivated:        SeverityHigh,
	AuditUserRoleChanged:          SeverityHigh,
	AuditUnauthorizedAccess:       SeverityCritical,
	AuditIntegrityViolation:       SeverityCritical,
}

// Valid reports whether the action belongs to the closed enumeration.
func (a AuditAction) Valid() bool {
	_, ok := auditSeverities[a]
	return ok
}

// Severity returns the fixed severity for the action.
func (a AuditAction) Severity() (AuditSeverity, bool) {
	severity, ok := auditSeverities[a]
	return severity, ok
}

// AuditActions lists every action in the enumeration.
func AuditActions() []AuditAction {
	out := make([]AuditAction, 0, len(auditSeverities))
	for action := range auditSeverities {
		out = append(out, action)
	}
	return out
}

// AuditLogEntry stores normalized audit information for compliance review. Never mutated after creation.
type AuditLogEntry struct {
	ID         string
	Actor      string
	ActorType  ActorType
	Action     AuditAction
	TargetType string
	TargetID   string
	Details    map[string]any
	Severity   AuditSeverity
	IPHash     string
	UserAgent  string
	RequestID  string
	CreatedAt  time.Time
}
