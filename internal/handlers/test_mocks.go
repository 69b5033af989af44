package handlers

import (
	"context"

	"levelquest/internal/models"
	"levelquest/internal/services"

	"github.com/stretchr/testify/mock"
)

// MockGameService is a testify mock of services.GameServiceInterface
type MockGameService struct {
	mock.Mock
}

var _ services.GameServiceInterface = (*MockGameService)(nil)

func (m *MockGameService) StartSession(ctx context.Context, userID, levelID string) (*models.Session, error) {
	args := m.Called(ctx, userID, levelID)
	sess, _ := args.Get(0).(*models.Session)
	return sess, args.Error(1)
}

func (m *MockGameService) SubmitAnswer(ctx context.Context, req services.SubmitAnswerRequest) (*models.QuestionResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*models.QuestionResult)
	return res, args.Error(1)
}

func (m *MockGameService) SkipQuestion(ctx context.Context, sessionID, userID string) (*models.QuestionResult, error) {
	args := m.Called(ctx, sessionID, userID)
	res, _ := args.Get(0).(*models.QuestionResult)
	return res, args.Error(1)
}

func (m *MockGameService) AbandonSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID, userID)
	sess, _ := args.Get(0).(*models.Session)
	return sess, args.Error(1)
}

func (m *MockGameService) GetCurrentActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	args := m.Called(ctx, userID)
	sess, _ := args.Get(0).(*models.Session)
	return sess, args.Error(1)
}

func (m *MockGameService) GetCompletedSessionSummary(ctx context.Context, sessionID, userID string) (*models.CompletedSessionSummary, error) {
	args := m.Called(ctx, sessionID, userID)
	summary, _ := args.Get(0).(*models.CompletedSessionSummary)
	return summary, args.Error(1)
}

func (m *MockGameService) SweepExpiredSessions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockGameService) RetryPendingAggregations(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockProgressService is a testify mock of services.ProgressServiceInterface
type MockProgressService struct {
	mock.Mock
}

var _ services.ProgressServiceInterface = (*MockProgressService)(nil)

func (m *MockProgressService) RecordLevelOutcome(ctx context.Context, courseID, userID, levelID string, outcome services.LevelOutcome) (bool, error) {
	args := m.Called(ctx, courseID, userID, levelID, outcome)
	return args.Bool(0), args.Error(1)
}

func (m *MockProgressService) GetCourseProgress(ctx context.Context, courseID, userID string) (*models.CourseProgress, error) {
	args := m.Called(ctx, courseID, userID)
	p, _ := args.Get(0).(*models.CourseProgress)
	return p, args.Error(1)
}

func (m *MockProgressService) GetCourseProgressDetails(ctx context.Context, courseID, userID string) (*models.CourseProgressDetails, error) {
	args := m.Called(ctx, courseID, userID)
	d, _ := args.Get(0).(*models.CourseProgressDetails)
	return d, args.Error(1)
}

func (m *MockProgressService) GetLevelProgress(ctx context.Context, levelID, userID string) (*models.LevelProgressView, error) {
	args := m.Called(ctx, levelID, userID)
	v, _ := args.Get(0).(*models.LevelProgressView)
	return v, args.Error(1)
}

func (m *MockProgressService) ListPlayingCourses(ctx context.Context, userID string) ([]*models.CourseProgress, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]*models.CourseProgress)
	return list, args.Error(1)
}

func (m *MockProgressService) ListCompletedCourses(ctx context.Context, userID string) ([]*models.CourseProgress, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]*models.CourseProgress)
	return list, args.Error(1)
}

// MockStatsService is a testify mock of services.StatsServiceInterface
type MockStatsService struct {
	mock.Mock
}

var _ services.StatsServiceInterface = (*MockStatsService)(nil)

func (m *MockStatsService) RecordLevelOutcome(ctx context.Context, userID, courseID, levelID string, outcome services.StatsOutcome) error {
	args := m.Called(ctx, userID, courseID, levelID, outcome)
	return args.Error(0)
}

func (m *MockStatsService) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	args := m.Called(ctx, userID)
	st, _ := args.Get(0).(*models.UserStats)
	return st, args.Error(1)
}
