package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("enroll: %w", Clone(ErrCourseFull, ""))

	got := FromError(wrapped)
	assert.Equal(t, ErrCourseFull.Code, got.Code)
	assert.Equal(t, http.StatusBadRequest, got.Status)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	got := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.ErrorIs(t, got, sql.ErrConnDone)
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	clone := Clone(ErrNotFound, "Course not found")
	assert.Equal(t, "Course not found", clone.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(sql.ErrTxDone, ErrStorageFailure.Code, ErrStorageFailure.Status, "commit enrollment")
	assert.True(t, Is(err, ErrStorageFailure))
	assert.False(t, Is(err, ErrCourseFull))
	assert.False(t, Is(nil, ErrCourseFull))
}
