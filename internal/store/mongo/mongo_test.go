package mongo

import (
	"testing"

	"levelquest/internal/models"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestBuildSessionFilter(t *testing.T) {
	query, opts := buildSessionFilter(models.SessionFilter{
		UserID:      "u1",
		LevelID:     "l1",
		Status:      models.SessionStatusCompleted,
		ExcludeID:   "s1",
		NewestFirst: true,
		Limit:       5,
	})

	assert.Equal(t, "u1", query["userId"])
	assert.Equal(t, "l1", query["levelId"])
	assert.Equal(t, models.SessionStatusCompleted, query["status"])
	assert.Equal(t, bson.M{"$ne": "s1"}, query["_id"])
	assert.NotContains(t, query, "courseId")

	if assert.NotNil(t, opts.Limit) {
		assert.Equal(t, int64(5), *opts.Limit)
	}
	assert.Equal(t, bson.D{{Key: "endTime", Value: -1}, {Key: "startTime", Value: -1}, {Key: "_id", Value: 1}}, opts.Sort)
}

func TestBuildSessionFilter_Defaults(t *testing.T) {
	query, opts := buildSessionFilter(models.SessionFilter{CourseID: "c1"})

	assert.Equal(t, bson.M{"courseId": "c1"}, query)
	assert.Nil(t, opts.Limit)
	assert.Equal(t, bson.D{{Key: "startTime", Value: 1}, {Key: "_id", Value: 1}}, opts.Sort)
}
