// Package mongo implements the store interfaces on MongoDB. Each conditional
// write filters on the expected version so a concurrent writer makes it match
// nothing.
package mongo

import (
	"context"
	"errors"
	"time"

	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"
	contextutils "levelquest/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
)

// Collection names
const (
	SessionsCollection = "game_sessions"
	ProgressCollection = "course_progress"
	StatsCollection    = "user_stats"
)

// Store is the MongoDB backend
type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	progress *mongo.Collection
	stats    *mongo.Collection
	logger   *observability.Logger
}

var _ store.Store = (*Store)(nil)

// Connect opens a client, verifies it and ensures indexes
func Connect(ctx context.Context, uri, database string, logger *observability.Logger) (result *Store, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "mongo_connect", attribute.String("db.name", database))
	defer observability.FinishSpan(span, &err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseConnection, "failed to connect to mongo: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseConnection, "failed to ping mongo: %v", err)
	}

	s := New(client, client.Database(database), logger)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Info(ctx, "MongoDB store ready", map[string]interface{}{"database": database})
	return s, nil
}

// New wraps an existing database handle
func New(client *mongo.Client, db *mongo.Database, logger *observability.Logger) *Store {
	return &Store{
		client:   client,
		sessions: db.Collection(SessionsCollection),
		progress: db.Collection(ProgressCollection),
		stats:    db.Collection(StatsCollection),
		logger:   logger,
	}
}

// EnsureIndexes creates the uniqueness and query indexes
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "levelId", Value: 1}},
			Options: options.Index().
				SetName("one_active").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(models.SessionStatusActive)}),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "startTime", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "levelId", Value: 1}, {Key: "status", Value: 1}, {Key: "endTime", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "aggregated", Value: 1}, {Key: "endTime", Value: 1}}},
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to create session indexes: %v", err)
	}

	_, err = s.progress.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "courseId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to create progress indexes: %v", err)
	}

	_, err = s.stats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "totalScore", Value: -1}}},
		{Keys: bson.D{{Key: "currentStreak", Value: -1}}},
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to create stats indexes: %v", err)
	}
	return nil
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func queryError(op string, err error) error {
	return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to %s: %v", op, err)
}

// CreateSession inserts a session; the partial unique index rejects a second active one
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "create_session",
		observability.AttributeSessionID(sess.ID),
		observability.AttributeUserID(sess.UserID),
	)
	defer observability.FinishSpan(span, &err)

	doc := sess.Clone()
	doc.Version = 1
	if _, err = s.sessions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if sess.Status == models.SessionStatusActive {
				return store.ErrActiveSessionExists(sess.UserID, sess.LevelID)
			}
			return store.ErrVersionConflict("session", sess.ID)
		}
		return queryError("insert session", err)
	}
	sess.Version = 1
	return nil
}

func (s *Store) findSession(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Session, error) {
	var sess models.Session
	err := s.sessions.FindOne(ctx, filter, opts...).Decode(&sess)
	if err != nil {
		return nil, err
	}
	if sess.AnsweredQuestions == nil {
		sess.AnsweredQuestions = []models.AnsweredQuestion{}
	}
	return &sess, nil
}

// GetSession loads a session by id
func (s *Store) GetSession(ctx context.Context, id string) (result *models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "get_session", observability.AttributeSessionID(id))
	defer observability.FinishSpan(span, &err)

	sess, err := s.findSession(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound("session", id)
	}
	if err != nil {
		return nil, queryError("load session", err)
	}
	return sess, nil
}

// FindActiveSession returns the active session for (user, level), or nil
func (s *Store) FindActiveSession(ctx context.Context, userID, levelID string) (result *models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "find_active_session",
		observability.AttributeUserID(userID),
		observability.AttributeLevelID(levelID),
	)
	defer observability.FinishSpan(span, &err)

	sess, err := s.findSession(ctx, bson.M{"userId": userID, "levelId": levelID, "status": models.SessionStatusActive})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("find active session", err)
	}
	return sess, nil
}

// FindLatestActiveSession returns the most recently started active session
func (s *Store) FindLatestActiveSession(ctx context.Context, userID string) (result *models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "find_latest_active_session", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	sess, err := s.findSession(ctx,
		bson.M{"userId": userID, "status": models.SessionStatusActive},
		options.FindOne().SetSort(bson.D{{Key: "startTime", Value: -1}}),
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("find latest active session", err)
	}
	return sess, nil
}

// UpdateSession replaces the session document if it is still active at expectedVersion
func (s *Store) UpdateSession(ctx context.Context, sess *models.Session, expectedVersion int64) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "update_session",
		observability.AttributeSessionID(sess.ID),
		attribute.Int64("session.expected_version", expectedVersion),
	)
	defer observability.FinishSpan(span, &err)

	doc := sess.Clone()
	doc.Version = expectedVersion + 1
	res, err := s.sessions.ReplaceOne(ctx,
		bson.M{"_id": sess.ID, "version": expectedVersion, "status": models.SessionStatusActive},
		doc,
	)
	if err != nil {
		return queryError("update session", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrVersionConflict("session", sess.ID)
	}
	sess.Version = doc.Version
	return nil
}

// TransitionSession ends an active session
func (s *Store) TransitionSession(ctx context.Context, id string, to models.SessionStatus, at time.Time) (ok bool, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "transition_session",
		observability.AttributeSessionID(id),
		attribute.String("session.to_status", string(to)),
	)
	defer observability.FinishSpan(span, &err)

	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.SessionStatusActive},
		bson.M{"$set": bson.M{"status": to, "endTime": at}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return false, queryError("transition session", err)
	}
	return res.ModifiedCount > 0, nil
}

// ExpireStaleSessions expires stale active sessions with one conditional bulk update
func (s *Store) ExpireStaleSessions(ctx context.Context, cutoff, at time.Time) (result []*models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "expire_stale_sessions")
	defer observability.FinishSpan(span, &err)

	stale := bson.M{"status": models.SessionStatusActive, "startTime": bson.M{"$lt": cutoff}}
	candidates, err := s.findSessions(ctx, stale, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*models.Session{}, nil
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	filter := bson.M{"_id": bson.M{"$in": ids}, "status": models.SessionStatusActive, "startTime": bson.M{"$lt": cutoff}}
	if _, err := s.sessions.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{"status": models.SessionStatusExpired, "endTime": at},
		"$inc": bson.M{"version": 1},
	}); err != nil {
		return nil, queryError("expire sessions", err)
	}

	// sessions that ended some other way between the two statements keep their status
	expired, err := s.findSessions(ctx, bson.M{"_id": bson.M{"$in": ids}, "status": models.SessionStatusExpired, "endTime": at})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sweep.expired", len(expired)))
	return expired, nil
}

func (s *Store) findSessions(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]*models.Session, error) {
	cur, err := s.sessions.Find(ctx, filter, opts...)
	if err != nil {
		return nil, queryError("find sessions", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	out := []*models.Session{}
	for cur.Next(ctx) {
		var sess models.Session
		if err := cur.Decode(&sess); err != nil {
			return nil, queryError("decode session", err)
		}
		if sess.AnsweredQuestions == nil {
			sess.AnsweredQuestions = []models.AnsweredQuestion{}
		}
		out = append(out, &sess)
	}
	if err := cur.Err(); err != nil {
		return nil, queryError("iterate sessions", err)
	}
	return out, nil
}

// ListSessions returns sessions matching filter
func (s *Store) ListSessions(ctx context.Context, filter models.SessionFilter) (result []*models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_sessions", observability.AttributeUserID(filter.UserID))
	defer observability.FinishSpan(span, &err)

	query, opts := buildSessionFilter(filter)
	return s.findSessions(ctx, query, opts)
}

func buildSessionFilter(filter models.SessionFilter) (bson.M, *options.FindOptions) {
	query := bson.M{}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if filter.LevelID != "" {
		query["levelId"] = filter.LevelID
	}
	if filter.CourseID != "" {
		query["courseId"] = filter.CourseID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.ExcludeID != "" {
		query["_id"] = bson.M{"$ne": filter.ExcludeID}
	}

	opts := options.Find()
	if filter.NewestFirst {
		opts.SetSort(bson.D{{Key: "endTime", Value: -1}, {Key: "startTime", Value: -1}, {Key: "_id", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "startTime", Value: 1}, {Key: "_id", Value: 1}})
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return query, opts
}

// ListUnaggregatedSessions returns completed sessions still owed to the aggregates
func (s *Store) ListUnaggregatedSessions(ctx context.Context, endedBefore time.Time, limit int) (result []*models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_unaggregated_sessions")
	defer observability.FinishSpan(span, &err)

	opts := options.Find().SetSort(bson.D{{Key: "endTime", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findSessions(ctx, bson.M{
		"status":     models.SessionStatusCompleted,
		"aggregated": false,
		"endTime":    bson.M{"$lt": endedBefore},
	}, opts)
}

// MarkSessionAggregated flags a completed session as absorbed
func (s *Store) MarkSessionAggregated(ctx context.Context, id string) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "mark_session_aggregated", observability.AttributeSessionID(id))
	defer observability.FinishSpan(span, &err)

	if _, err = s.sessions.UpdateOne(ctx,
		bson.M{"_id": id, "aggregated": false},
		bson.M{"$set": bson.M{"aggregated": true}, "$inc": bson.M{"version": 1}},
	); err != nil {
		return queryError("mark session aggregated", err)
	}
	return nil
}

// GetCourseProgress loads one learner's progress on one course
func (s *Store) GetCourseProgress(ctx context.Context, userID, courseID string) (result *models.CourseProgress, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "get_course_progress",
		observability.AttributeUserID(userID),
		observability.AttributeCourseID(courseID),
	)
	defer observability.FinishSpan(span, &err)

	var p models.CourseProgress
	err = s.progress.FindOne(ctx, bson.M{"userId": userID, "courseId": courseID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound("course progress", courseID)
	}
	if err != nil {
		return nil, queryError("load course progress", err)
	}
	if p.LevelProgress == nil {
		p.LevelProgress = map[string]models.LevelProgress{}
	}
	return &p, nil
}

// SaveCourseProgress inserts (expectedVersion 0) or conditionally replaces progress
func (s *Store) SaveCourseProgress(ctx context.Context, p *models.CourseProgress, expectedVersion int64) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "save_course_progress",
		observability.AttributeUserID(p.UserID),
		observability.AttributeCourseID(p.CourseID),
	)
	defer observability.FinishSpan(span, &err)

	doc := p.Clone()
	doc.Version = expectedVersion + 1
	if expectedVersion == 0 {
		if _, err = s.progress.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrVersionConflict("course progress", p.CourseID)
			}
			return queryError("insert course progress", err)
		}
	} else {
		res, err := s.progress.ReplaceOne(ctx, bson.M{"userId": p.UserID, "courseId": p.CourseID, "version": expectedVersion}, doc)
		if err != nil {
			return queryError("update course progress", err)
		}
		if res.MatchedCount == 0 {
			return store.ErrVersionConflict("course progress", p.CourseID)
		}
	}
	p.Version = doc.Version
	return nil
}

// ListCourseProgress lists a learner's course progress, most recently updated first
func (s *Store) ListCourseProgress(ctx context.Context, userID string, completed *bool) (result []*models.CourseProgress, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_course_progress", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	filter := bson.M{"userId": userID}
	if completed != nil {
		filter["isCompleted"] = *completed
	}
	cur, err := s.progress.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "courseId", Value: 1}}))
	if err != nil {
		return nil, queryError("list course progress", err)
	}
	out := []*models.CourseProgress{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, queryError("decode course progress", err)
	}
	return out, nil
}

// DeleteUserProgress removes every progress document of a learner
func (s *Store) DeleteUserProgress(ctx context.Context, userID string) error {
	if _, err := s.progress.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return queryError("delete course progress", err)
	}
	return nil
}

// GetUserStats loads a learner's lifetime stats
func (s *Store) GetUserStats(ctx context.Context, userID string) (result *models.UserStats, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "get_user_stats", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	var st models.UserStats
	err = s.stats.FindOne(ctx, bson.M{"_id": userID}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound("user stats", userID)
	}
	if err != nil {
		return nil, queryError("load user stats", err)
	}
	if st.CategoryStats == nil {
		st.CategoryStats = map[string]models.CategoryStats{}
	}
	if st.DailyActivity == nil {
		st.DailyActivity = map[string]models.DailyActivity{}
	}
	return &st, nil
}

// SaveUserStats inserts (expectedVersion 0) or conditionally replaces stats
func (s *Store) SaveUserStats(ctx context.Context, st *models.UserStats, expectedVersion int64) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "save_user_stats", observability.AttributeUserID(st.UserID))
	defer observability.FinishSpan(span, &err)

	doc := st.Clone()
	doc.Version = expectedVersion + 1
	if expectedVersion == 0 {
		if _, err = s.stats.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrVersionConflict("user stats", st.UserID)
			}
			return queryError("insert user stats", err)
		}
	} else {
		res, err := s.stats.ReplaceOne(ctx, bson.M{"_id": st.UserID, "version": expectedVersion}, doc)
		if err != nil {
			return queryError("update user stats", err)
		}
		if res.MatchedCount == 0 {
			return store.ErrVersionConflict("user stats", st.UserID)
		}
	}
	st.Version = doc.Version
	return nil
}

// DeleteUserStats removes a learner's stats document
func (s *Store) DeleteUserStats(ctx context.Context, userID string) error {
	if _, err := s.stats.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return queryError("delete user stats", err)
	}
	return nil
}
