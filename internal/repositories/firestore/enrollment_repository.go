package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/masar-academy/api/internal/domain"
	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

// EnrollmentRepository writes course access grants keyed by user and course.
type EnrollmentRepository struct {
	enrollments *pfirestore.Collection[enrollmentDocument]
}

var _ repositories.EnrollmentRepository = (*EnrollmentRepository)(nil)

// NewEnrollmentRepository constructs a Firestore-backed enrollment repository.
func NewEnrollmentRepository(provider *pfirestore.Provider) (*EnrollmentRepository, error) {
	if provider == nil {
		return nil, errors.New("enrollment repository requires firestore provider")
	}
	return &EnrollmentRepository{
		enrollments: pfirestore.NewCollection[enrollmentDocument](provider, enrollmentsCollection),
	}, nil
}

// Grant creates the enrollment if it does not exist yet; an existing grant is kept as is.
func (r *EnrollmentRepository) Grant(ctx context.Context, enrollment domain.CourseEnrollment) error {
	ref, err := r.enrollments.Ref(ctx, enrollmentID(enrollment.UserID, enrollment.CourseID))
	if err != nil {
		return err
	}
	doc := enrollmentDocument{
		UserID:    enrollment.UserID,
		CourseID:  enrollment.CourseID,
		OrderID:   enrollment.OrderID,
		GrantedAt: enrollment.GrantedAt.UTC(),
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		// Create inside a transaction fails the whole commit when the grant exists, so the
		// existence check is one of the transaction's reads.
		if _, err := tx.Get(ref); err == nil {
			return nil
		} else if !isNotFound(err) {
			return wrap("enrollments.grant", err)
		}
		return wrap("enrollments.grant", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return wrap("enrollments.grant", err)
}

func enrollmentID(userID, courseID string) string {
	return userID + "_" + courseID
}
