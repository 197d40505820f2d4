package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/coverage-analysis/internal/repository"
)

// MockIndexRepository is a mock implementation of the IndexRepository interface.
type MockIndexRepository struct {
	mock.Mock
}

// SavePart mocks the SavePart method.
func (m *MockIndexRepository) SavePart(ctx context.Context, part *repository.ReportPart, sessions []repository.SessionEntry) error {
	args := m.Called(ctx, part, sessions)
	return args.Error(0)
}

// ListParts mocks the ListParts method.
func (m *MockIndexRepository) ListParts(ctx context.Context, runID string) ([]repository.ReportPart, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ReportPart), args.Error(1)
}

// FindSession mocks the FindSession method.
func (m *MockIndexRepository) FindSession(ctx context.Context, runID, sessionID string) (*repository.SessionEntry, error) {
	args := m.Called(ctx, runID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.SessionEntry), args.Error(1)
}

// ExpectListParts sets up an expectation for ListParts.
func (m *MockIndexRepository) ExpectListParts(runID string, parts []repository.ReportPart, err error) *mock.Call {
	return m.On("ListParts", mock.Anything, runID).Return(parts, err)
}

// ExpectFindSession sets up an expectation for FindSession.
func (m *MockIndexRepository) ExpectFindSession(runID, sessionID string, entry *repository.SessionEntry, err error) *mock.Call {
	return m.On("FindSession", mock.Anything, runID, sessionID).Return(entry, err)
}
