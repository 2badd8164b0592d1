package memory

import (
	"context"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// CatalogRepository serves consultation offerings and courses seeded with PutConsultation and PutCourse.
type CatalogRepository struct {
	store *Store
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func (r *CatalogRepository) FindConsultation(ctx context.Context, offeringID string) (domain.ConsultationOffering, error) {
	defer r.store.lock(ctx)()
	offering, ok := r.store.data.consultations[strings.TrimSpace(offeringID)]
	if !ok {
		return domain.ConsultationOffering{}, repositories.NotFoundError("catalog.consultation", "offering %s not found", offeringID)
	}
	return offering, nil
}

func (r *CatalogRepository) FindCourse(ctx context.Context, courseID string) (domain.Course, error) {
	defer r.store.lock(ctx)()
	course, ok := r.store.data.courses[strings.TrimSpace(courseID)]
	if !ok {
		return domain.Course{}, repositories.NotFoundError("catalog.course", "course %s not found", courseID)
	}
	return course, nil
}

// PutConsultation upserts an offering.
func (r *CatalogRepository) PutConsultation(offering domain.ConsultationOffering) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.data.consultations[offering.ID] = offering
}

// PutCourse upserts a course.
func (r *CatalogRepository) PutCourse(course domain.Course) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.data.courses[course.ID] = course
}
