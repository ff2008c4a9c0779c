package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrDuplicateActive reports a second enrolled row for the same student and course.
	ErrDuplicateActive = errors.New("active enrollment already exists")
	// ErrCapacityBelowEnrolled reports a capacity update smaller than the current enrollment.
	ErrCapacityBelowEnrolled = errors.New("capacity below enrolled count")
	// ErrHasActiveEnrollments blocks hard deletes of courses that still have students.
	ErrHasActiveEnrollments = errors.New("course has active enrollments")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
