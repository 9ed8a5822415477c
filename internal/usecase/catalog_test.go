package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/domain"
)

type fakeLister struct {
	courses []domain.Course
	err     error
}

func (f fakeLister) ListPlannedCourses(context.Context) ([]domain.Course, error) {
	return f.courses, f.err
}

func TestCatalog_Courses(t *testing.T) {
	_, err := NewCatalog(nil)
	require.Error(t, err)

	c, err := NewCatalog(fakeLister{})
	require.NoError(t, err)
	courses, err := c.Courses(context.Background())
	require.NoError(t, err)
	require.NotNil(t, courses)

	c, err = NewCatalog(fakeLister{err: errors.New("notion down")})
	require.NoError(t, err)
	_, err = c.Courses(context.Background())
	var ucErr *Error
	require.True(t, errors.As(err, &ucErr))
	require.Equal(t, ErrorStorage, ucErr.Code)
}
