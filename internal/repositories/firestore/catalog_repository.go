package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

// CatalogRepository reads consultations and courses published by the content system. It never writes.
type CatalogRepository struct {
	consultations *pfirestore.Collection[consultationDocument]
	courses       *pfirestore.Collection[courseDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		consultations: pfirestore.NewCollection[consultationDocument](provider, consultationsCollection),
		courses:       pfirestore.NewCollection[courseDocument](provider, coursesCollection),
	}, nil
}

func (r *CatalogRepository) FindConsultation(ctx context.Context, offeringID string) (domain.ConsultationOffering, error) {
	id := strings.TrimSpace(offeringID)
	if id == "" {
		return domain.ConsultationOffering{}, repositories.NotFoundError("catalog.consultation", "offering id is required")
	}
	doc, err := r.consultations.Get(ctx, id)
	if err != nil {
		return domain.ConsultationOffering{}, err
	}
	return decodeConsultation(doc.ID, doc.Data)
}

func (r *CatalogRepository) FindCourse(ctx context.Context, courseID string) (domain.Course, error) {
	id := strings.TrimSpace(courseID)
	if id == "" {
		return domain.Course{}, repositories.NotFoundError("catalog.course", "course id is required")
	}
	doc, err := r.courses.Get(ctx, id)
	if err != nil {
		return domain.Course{}, err
	}
	price, err := decodeMoney("price", doc.Data.Price)
	if err != nil {
		return domain.Course{}, err
	}
	return domain.Course{
		ID:       doc.ID,
		Title:    doc.Data.Title,
		Price:    price,
		Currency: doc.Data.Currency,
		IsActive: doc.Data.IsActive,
	}, nil
}
