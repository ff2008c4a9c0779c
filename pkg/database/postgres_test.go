package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "courses", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=courses sslmode=disable", dsn)
}

func TestSchemaDeclaresLedgerConstraints(t *testing.T) {
	assert.Contains(t, schema, "CHECK (enrolled >= 0)")
	assert.Contains(t, schema, "WHERE status = 'enrolled'")
	assert.Contains(t, schema, "ON DELETE CASCADE")
}

func TestEnsureSchema(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "sqlmock")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, EnsureSchema(context.Background(), db))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	err = EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}
