package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"levelquest/internal/config"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDatabaseName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"postgres://u:p@localhost:5432/levelquest_db?sslmode=disable", "levelquest_db"},
		{"host=localhost user=u dbname=games sslmode=disable", "games"},
		{"", "levelquest"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDatabaseName(tt.input))
		})
	}
}

func TestMigrationNames_AreEmbedded(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_catalog.up.sql", "000002_game.up.sql"}, names)
}

func TestInitDBWithoutMigrations_RequiresURL(t *testing.T) {
	dm := NewManager(observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false}))

	db, err := dm.InitDBWithoutMigrations(config.DatabaseConfig{})
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Equal(t, contextutils.ErrorCodeInvalidInput, contextutils.GetErrorCode(err))
}

func TestDefaultDatabaseConfig(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://localhost/test")
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres://localhost/test", cfg.URL)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.True(t, cfg.RunMigrations)
}

func TestResetGameData(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	dm := NewManager(observability.NewNopLogger())

	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE game_sessions, course_progress, user_stats")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, dm.ResetGameData(context.Background(), db))

	mock.ExpectExec("TRUNCATE").WillReturnError(errors.New("permission denied"))
	err = dm.ResetGameData(context.Background(), db)
	assert.True(t, contextutils.IsError(err, contextutils.ErrDatabaseQuery))

	require.NoError(t, mock.ExpectationsWereMet())
}
