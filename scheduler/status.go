package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/people-engine/timeline"
)

// EmployeeLister enumerates employee IDs.
type EmployeeLister interface {
	ListEmployeeIDs(ctx context.Context) ([]string, error)
}

// StatusRefresher re-derives an employee's current status.
// *timeline.EmploymentTimeline implements it.
type StatusRefresher interface {
	RefreshStatus(ctx context.Context, employeeID string) (timeline.EmploymentStatus, error)
}

// StatusJob rolls future-dated employment versions into the denormalized
// current status once their effective date arrives.
type StatusJob struct {
	Employees EmployeeLister
	Refresher StatusRefresher
	Timeout   time.Duration
	log       zerolog.Logger
}

func NewStatusJob(employees EmployeeLister, refresher StatusRefresher, log zerolog.Logger) *StatusJob {
	return &StatusJob{
		Employees: employees,
		Refresher: refresher,
		Timeout:   5 * time.Minute,
		log:       log.With().Str("component", "status_job").Logger(),
	}
}

func (j *StatusJob) Name() string { return "employment_status" }

func (j *StatusJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce refreshes every employee and returns how many it touched. One
// employee's failure does not stop the others.
func (j *StatusJob) RunOnce(ctx context.Context) (int, error) {
	ids, err := j.Employees.ListEmployeeIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list employees: %w", err)
	}
	var refreshed, failed int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := j.Refresher.RefreshStatus(ctx, id); err != nil {
			failed++
			j.log.Error().Err(err).Str("employee_id", id).Msg("status refresh failed")
			continue
		}
		refreshed++
	}
	j.log.Info().Int("refreshed", refreshed).Int("failed", failed).Msg("status refresh finished")
	if failed > 0 {
		return refreshed, fmt.Errorf("%d of %d status refreshes failed", failed, len(ids))
	}
	return refreshed, nil
}
