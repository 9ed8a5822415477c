package usecase

import (
	"context"
	"errors"

	"tutor-agent/internal/domain"
)

type CourseLister interface {
	ListPlannedCourses(ctx context.Context) ([]domain.Course, error)
}

// Catalog lists the courses the learner can start.
type Catalog struct {
	lister CourseLister
}

func NewCatalog(lister CourseLister) (*Catalog, error) {
	if lister == nil {
		return nil, errors.New("usecase: course lister must not be nil")
	}
	return &Catalog{lister: lister}, nil
}

func (c *Catalog) Courses(ctx context.Context) ([]domain.Course, error) {
	courses, err := c.lister.ListPlannedCourses(ctx)
	if err != nil {
		return nil, storageError("catalog_read_error", err)
	}
	if courses == nil {
		courses = []domain.Course{}
	}
	return courses, nil
}
