package memory

import (
	"context"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// EnrollmentRepository records course access grants. Granting twice keeps the first grant.
type EnrollmentRepository struct {
	store *Store
}

var _ repositories.EnrollmentRepository = (*EnrollmentRepository)(nil)

func (r *EnrollmentRepository) Grant(ctx context.Context, enrollment domain.CourseEnrollment) error {
	defer r.store.lock(ctx)()
	key := enrollment.UserID + "_" + enrollment.CourseID
	if _, exists := r.store.data.enrollments[key]; exists {
		return nil
	}
	r.store.data.enrollments[key] = enrollment
	return nil
}

// Find returns the enrollment of userID in courseID.
func (r *EnrollmentRepository) Find(userID, courseID string) (domain.CourseEnrollment, bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	enrollment, ok := r.store.data.enrollments[userID+"_"+courseID]
	return enrollment, ok
}
