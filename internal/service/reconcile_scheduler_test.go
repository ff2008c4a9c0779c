package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
)

type stubReconciler struct {
	calls    int
	deadline bool
	err      error
}

func (s *stubReconciler) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	s.calls++
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now()
	return &models.ReconcileReport{Checked: 2, StartedAt: now, FinishedAt: now}, nil
}

func TestReconcileSchedulerRunOnce(t *testing.T) {
	stub := &stubReconciler{}
	scheduler := NewReconcileScheduler(stub, "", time.Second, zap.NewNop())

	report, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.True(t, stub.deadline)

	stub.err = errors.New("db down")
	_, err = scheduler.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestReconcileSchedulerAgainstLedger(t *testing.T) {
	store := newFakeLedger()
	course := store.addCourse("CS101", 5, true)
	store.setEnrolled(course.ID, 3)
	svc, _, _ := newTestEnrollmentService(store)

	scheduler := NewReconcileScheduler(svc, "@every 1h", time.Second, nil)
	report, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Corrections, 1)
	assert.Equal(t, 0, store.course(course.ID).Enrolled)
}

func TestReconcileSchedulerStartStop(t *testing.T) {
	scheduler := NewReconcileScheduler(&stubReconciler{}, "not a schedule", time.Second, nil)
	assert.Error(t, scheduler.Start())

	scheduler = NewReconcileScheduler(&stubReconciler{}, "@every 1h", time.Second, nil)
	require.NoError(t, scheduler.Start())
	require.NoError(t, scheduler.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	scheduler.Stop(ctx)
	scheduler.Stop(ctx)
}
