package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

type delayErr struct{}

func (delayErr) Error() string { return "later" }
func (delayErr) RetryDelay() (time.Duration, bool) { return time.Second, true }

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "retriable", err: fmt.Errorf("grant: %w", delayErr{}), want: JobReasonRetriable},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIncOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newJobMetrics(registry, Config{ServiceName: "railzway-benefits", Environment: "test"})

	m.IncOutcome("benefit.grant", JobOutcomeRescheduled)
	m.IncOutcome("benefit.grant", JobOutcomeRescheduled)

	got := testutil.ToFloat64(m.jobOutcomes.WithLabelValues("benefit.grant", JobOutcomeRescheduled))
	if got != 2 {
		t.Fatalf("expected 2 rescheduled outcomes, got %v", got)
	}
}

func TestNilJobMetricsIsSafe(t *testing.T) {
	var m *JobMetrics
	m.IncJobRun("x")
	m.IncJobError("x", errors.New("boom"))
	m.ObserveJobDuration("x", time.Second)
}
