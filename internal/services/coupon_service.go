package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

const (
	couponEventRedeemed = "coupon.redeemed"

	defaultCouponPageSize = 50
	maxCouponPageSize     = 200
)

var hundred = decimal.NewFromInt(100)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Clock       func() time.Time
	IDGenerator func() string
	Audit       AuditLogService
	Sanitizer   TextSanitizer
	Logger      Logger
}

type couponService struct {
	serviceRuntime
	coupons repositories.CouponRepository
}

// NewCouponService wires dependencies into the coupon engine.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	return &couponService{
		serviceRuntime: newServiceRuntime(runtimeDeps{
			Clock:       deps.Clock,
			IDGenerator: deps.IDGenerator,
			Audit:       deps.Audit,
			Sanitizer:   deps.Sanitizer,
			Logger:      deps.Logger,
		}),
		coupons: deps.Coupons,
	}, nil
}

// CalculateDiscount returns the discount a coupon grants on amount. Percentages round half-up
// to two decimals; fixed values never exceed the amount.
func CalculateDiscount(coupon domain.Coupon, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	value := domain.ClampDiscountValue(coupon.DiscountType, coupon.DiscountValue)
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = amount.Mul(value).Div(hundred).Round(domain.MoneyScale)
	case domain.DiscountTypeFixed:
		discount = domain.MinMoney(value, amount)
	default:
		return decimal.Zero
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return domain.MinMoney(discount, amount)
}

func (s *couponService) ValidateCoupon(ctx context.Context, req CouponValidationRequest) (CouponValidation, error) {
	code := domain.NormalizeCouponCode(req.Code)
	if code == "" {
		return CouponValidation{}, withDetail(ErrCouponInvalidInput, "code is required")
	}
	if err := domain.CheckMoney(req.Amount); err != nil {
		return CouponValidation{}, withCause(withDetail(ErrCouponInvalidInput, "purchase amount"), err)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return CouponValidation{}, repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
	}

	userID := strings.TrimSpace(req.UserID)
	replacing := strings.TrimSpace(req.ReplacingOrderID)
	if userID != "" && replacing != "" {
		coupon, _ = coupon.WithoutRedemption(userID, replacing)
	}

	if err := checkCouponUsable(coupon, s.now()); err != nil {
		return CouponValidation{}, err
	}

	if userID != "" {
		if _, ok := coupon.RedeemedBy(userID); ok {
			return CouponValidation{}, ErrCouponAlreadyRedeemed
		}
		if r, err := s.coupons.FindRedemption(ctx, code, userID); err == nil && (replacing == "" || r.OrderID != replacing) {
			return CouponValidation{}, ErrCouponAlreadyRedeemed
		} else if err != nil && !isRepositoryNotFound(err) {
			return CouponValidation{}, repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
		}
	}

	if err := checkCouponApplies(coupon, req.Target, req.Amount); err != nil {
		return CouponValidation{}, err
	}

	discount := CalculateDiscount(coupon, req.Amount)
	return CouponValidation{
		Coupon:         coupon,
		OriginalAmount: req.Amount,
		DiscountAmount: discount,
		FinalAmount:    req.Amount.Sub(discount),
	}, nil
}

// checkCouponUsable runs the active, window and cap checks.
func checkCouponUsable(coupon domain.Coupon, now time.Time) error {
	if !coupon.IsActive {
		return ErrCouponInactive
	}
	if !coupon.ValidFrom.IsZero() && now.Before(coupon.ValidFrom) {
		return ErrCouponNotYetValid
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return ErrCouponExpired
	}
	if coupon.Exhausted() {
		return ErrCouponExhausted
	}
	return nil
}

// checkCouponApplies runs the minimum amount and scope checks.
func checkCouponApplies(coupon domain.Coupon, target CouponTarget, amount decimal.Decimal) error {
	if amount.LessThan(coupon.MinPurchaseAmount) {
		return withDetail(ErrCouponBelowMinimum, "minimum %s", domain.FormatMoney(coupon.MinPurchaseAmount))
	}
	switch coupon.ApplicableTo {
	case domain.CouponScopeAll:
		return nil
	case domain.CouponScopeCourses:
		if target.Kind == domain.PurchaseKindCourse {
			return nil
		}
	case domain.CouponScopeConsultations:
		if target.Kind == domain.PurchaseKindConsultation {
			return nil
		}
	case domain.CouponScopeSpecific:
		switch target.Kind {
		case domain.PurchaseKindCourse:
			if slices.Contains(coupon.AllowedCourseIDs, target.ID) {
				return nil
			}
		case domain.PurchaseKindConsultation:
			if slices.Contains(coupon.AllowedConsultationIDs, target.ID) {
				return nil
			}
		}
	}
	return ErrCouponScopeMismatch
}

// RedeemCoupon records a redemption through the repository's atomic conditional update. Replaying
// the same (user, order) pair succeeds without a second increment.
func (s *couponService) RedeemCoupon(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error) {
	code := domain.NormalizeCouponCode(cmd.Code)
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if code == "" || userID == "" || orderID == "" {
		return Coupon{}, withDetail(ErrCouponInvalidInput, "code, user id and order id are required")
	}
	result, err := s.coupons.Redeem(ctx, code, domain.CouponRedemption{
		UserID:  userID,
		OrderID: orderID,
		UsedAt:  s.now(),
	})
	if err != nil {
		return Coupon{}, mapCouponRepositoryError(err)
	}
	return result.Coupon, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	code := domain.NormalizeCouponCode(cmd.Code)
	if err := s.requireAdmin(ctx, cmd.Actor, "coupon.create", "coupon", code, ErrCouponForbidden); err != nil {
		return Coupon{}, err
	}
	now := s.now()
	coupon := domain.Coupon{
		ID:        code,
		Code:      code,
		CreatedBy: cmd.Actor.ID,
		CreatedAt: now,
	}
	if err := s.applyCouponFields(&coupon, cmd); err != nil {
		return Coupon{}, err
	}
	coupon.UpdatedAt = now
	coupon.Version = 1

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, mapCouponRepositoryError(err)
	}
	s.record(ctx, cmd.Actor, domain.AuditCouponCreated, "coupon", coupon.Code, couponAuditDetails(coupon))
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	code := domain.NormalizeCouponCode(cmd.Code)
	if err := s.requireAdmin(ctx, cmd.Actor, "coupon.update", "coupon", code, ErrCouponForbidden); err != nil {
		return Coupon{}, err
	}
	current, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Coupon{}, repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
	}
	expected := current.Version
	if cmd.ExpectedVersion != nil {
		if *cmd.ExpectedVersion != current.Version {
			return Coupon{}, withDetail(ErrCouponConflict, "expected version %d but was %d", *cmd.ExpectedVersion, current.Version)
		}
		expected = *cmd.ExpectedVersion
	}

	next := current
	if err := s.applyCouponFields(&next, cmd); err != nil {
		return Coupon{}, err
	}
	if next.MaxUses != nil && *next.MaxUses < current.UsedCount {
		return Coupon{}, withDetail(ErrCouponInvalidInput, "max uses below current usage %d", current.UsedCount)
	}
	next.UpdatedAt = s.now()

	updated, err := s.coupons.Update(ctx, next, expected)
	if err != nil {
		return Coupon{}, mapCouponRepositoryError(err)
	}
	s.record(ctx, cmd.Actor, domain.AuditCouponUpdated, "coupon", updated.Code, couponAuditDetails(updated))
	return updated, nil
}

func (s *couponService) DeactivateCoupon(ctx context.Context, code string, actor Actor) (Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	if err := s.requireAdmin(ctx, actor, "coupon.deactivate", "coupon", code, ErrCouponForbidden); err != nil {
		return Coupon{}, err
	}
	current, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Coupon{}, repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
	}
	if !current.IsActive {
		return current, nil
	}
	next := current
	next.IsActive = false
	next.UpdatedAt = s.now()
	updated, err := s.coupons.Update(ctx, next, current.Version)
	if err != nil {
		return Coupon{}, mapCouponRepositoryError(err)
	}
	s.record(ctx, actor, domain.AuditCouponDeactivated, "coupon", updated.Code, map[string]any{
		"usedCount": updated.UsedCount,
	})
	return updated, nil
}

func (s *couponService) GetCoupon(ctx context.Context, code string, actor Actor) (Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	if err := s.requireAdmin(ctx, actor, "coupon.get", "coupon", code, ErrCouponForbidden); err != nil {
		return Coupon{}, err
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Coupon{}, repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context, actor Actor, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	if err := s.requireAdmin(ctx, actor, "coupon.list", "coupon", "", ErrCouponForbidden); err != nil {
		return domain.CursorPage[Coupon]{}, err
	}
	filter.Pagination.PageSize = clampPageSize(filter.Pagination.PageSize, defaultCouponPageSize, maxCouponPageSize)
	page, err := s.coupons.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
	}
	return page, nil
}

func (s *couponService) applyCouponFields(coupon *domain.Coupon, cmd UpsertCouponCommand) error {
	if coupon.Code == "" {
		return withDetail(ErrCouponInvalidInput, "code is required")
	}
	if !cmd.DiscountType.Valid() {
		return withDetail(ErrCouponInvalidInput, "unknown discount type %q", cmd.DiscountType)
	}
	scope := cmd.ApplicableTo
	if scope == "" {
		scope = domain.CouponScopeAll
	}
	if !scope.Valid() {
		return withDetail(ErrCouponInvalidInput, "unknown scope %q", scope)
	}
	if scope == domain.CouponScopeSpecific && len(cmd.AllowedCourseIDs) == 0 && len(cmd.AllowedConsultationIDs) == 0 {
		return withDetail(ErrCouponInvalidInput, "specific coupons need at least one allowed course or consultation")
	}
	if cmd.MaxUses != nil && *cmd.MaxUses <= 0 {
		return withDetail(ErrCouponInvalidInput, "max uses must be positive")
	}
	if err := domain.CheckMoney(cmd.MinPurchaseAmount); err != nil {
		return withCause(withDetail(ErrCouponInvalidInput, "minimum purchase amount"), err)
	}
	validFrom := cmd.ValidFrom
	if validFrom.IsZero() {
		validFrom = s.now()
	}
	if cmd.ValidUntil != nil && !cmd.ValidUntil.After(validFrom) {
		return withDetail(ErrCouponInvalidInput, "valid until must be after valid from")
	}

	value := domain.ClampDiscountValue(cmd.DiscountType, cmd.DiscountValue)
	if cmd.DiscountType == domain.DiscountTypeFixed {
		value = value.Round(domain.MoneyScale)
	}

	coupon.Description = s.clean(cmd.Description)
	coupon.DiscountType = cmd.DiscountType
	coupon.DiscountValue = value
	coupon.MaxUses = cloneIntPtr(cmd.MaxUses)
	coupon.ValidFrom = validFrom.UTC()
	coupon.ValidUntil = utcTimePtr(cmd.ValidUntil)
	coupon.ApplicableTo = scope
	coupon.AllowedCourseIDs = normalizeIDs(cmd.AllowedCourseIDs)
	coupon.AllowedConsultationIDs = normalizeIDs(cmd.AllowedConsultationIDs)
	coupon.MinPurchaseAmount = cmd.MinPurchaseAmount
	coupon.IsActive = cmd.IsActive
	return nil
}

func mapCouponRepositoryError(err error) error {
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorExhausted:
			return withCause(ErrCouponExhausted, err)
		case repositories.CouponErrorAlreadyRedeemed:
			return withCause(ErrCouponAlreadyRedeemed, err)
		case repositories.CouponErrorInactive:
			return withCause(ErrCouponInactive, err)
		case repositories.CouponErrorDuplicateCode:
			return withCause(ErrCouponDuplicateCode, err)
		}
	}
	return repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
}

func couponAuditDetails(coupon domain.Coupon) map[string]any {
	details := map[string]any{
		"discountType":  string(coupon.DiscountType),
		"discountValue": coupon.DiscountValue.String(),
		"applicableTo":  string(coupon.ApplicableTo),
		"isActive":      coupon.IsActive,
	}
	if coupon.MaxUses != nil {
		details["maxUses"] = *coupon.MaxUses
	}
	return details
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func utcTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}
