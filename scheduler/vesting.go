/*
vesting.go - Vesting job

PURPOSE:
  Enumerates due vesting events (scheduled, vesting date on or before
  today) and hands each to the equity processor.

CONCURRENCY:
  Events are grouped by grant. Grants are processed in parallel, bounded by
  Workers; events of one grant run serially in date order because they all
  move the same SharesVested counter.

FAILURES:
  Permanent (future event, already processed, insufficient shares):
    logged once and remembered, so later runs do not pick them up again.
    An event is forgotten once a complete fetch no longer returns it, and
    at most MaxRejected events are remembered; beyond that they are
    retried and logged on every run.
  Transient (storage errors, exhausted conflict retries):
    counted; the grant's remaining events wait for the next tick.

  A caller that times out does not know whether the event applied. The
  processor re-reads the event inside its unit of work, so the next run
  either applies it or sees it processed.

AUDIT:
  The last runs are kept in memory for the status endpoint.
*/
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers   = 4
	DefaultBatchSize   = 500
	DefaultMaxRejected = 1000
	keptRuns           = 20
)

// EventSource lists due ledger events.
type EventSource interface {
	DueEvents(ctx context.Context, asOf generic.TimePoint, limit int) ([]equity.VestingEvent, error)
}

// EventProcessor applies one event. *equity.Processor implements it.
type EventProcessor interface {
	Process(ctx context.Context, eventID string) (equity.VestingEvent, equity.Grant, error)
}

type RunReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	AsOf       generic.TimePoint `json:"as_of"`
	Due        int               `json:"due"`
	Grants     int               `json:"grants"`
	Processed  int               `json:"processed"`
	Shares     int64             `json:"shares"`
	Permanent  int               `json:"permanent_failures"`
	Transient  int               `json:"transient_failures"`
	Deferred   int               `json:"deferred"`
	Rejected   int               `json:"remembered_rejections"`
}

type VestingJob struct {
	Source    EventSource
	Processor EventProcessor
	Clock     generic.Clock
	Workers   int
	BatchSize int
	Timeout   time.Duration

	// MaxRejected bounds the remembered permanent rejections.
	MaxRejected int

	log zerolog.Logger

	mu       sync.Mutex
	rejected map[string]struct{}
	runs     []RunReport
}

func NewVestingJob(source EventSource, processor EventProcessor, clock generic.Clock, log zerolog.Logger) *VestingJob {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &VestingJob{
		Source:      source,
		Processor:   processor,
		Clock:       clock,
		Workers:     DefaultWorkers,
		BatchSize:   DefaultBatchSize,
		Timeout:     10 * time.Minute,
		MaxRejected: DefaultMaxRejected,
		log:         log.With().Str("component", "vesting_job").Logger(),
		rejected:    make(map[string]struct{}),
	}
}

func (j *VestingJob) Name() string { return "vesting" }

// Run satisfies Job for the cron scheduler.
func (j *VestingJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce processes one batch of due events.
func (j *VestingJob) RunOnce(ctx context.Context) (RunReport, error) {
	report := RunReport{StartedAt: j.Clock.Now(), AsOf: generic.Today(j.Clock)}

	j.mu.Lock()
	limit := 0
	if j.BatchSize > 0 {
		limit = j.BatchSize + len(j.rejected)
	}
	j.mu.Unlock()

	due, err := j.Source.DueEvents(ctx, report.AsOf, limit)
	if err != nil {
		return report, err
	}
	if limit == 0 || len(due) < limit {
		j.forgetResolved(due)
	}

	byGrant, order := j.groupByGrant(due)
	for _, events := range byGrant {
		report.Due += len(events)
	}
	report.Grants = len(order)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	workers := j.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, grantID := range order {
		grantID := grantID
		events := byGrant[grantID]
		g.Go(func() error {
			res := j.processGrant(gctx, grantID, events)
			mu.Lock()
			report.Processed += res.Processed
			report.Shares += res.Shares
			report.Permanent += res.Permanent
			report.Transient += res.Transient
			report.Deferred += res.Deferred
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = j.Clock.Now()
	j.mu.Lock()
	report.Rejected = len(j.rejected)
	j.mu.Unlock()
	j.record(report)

	j.log.Info().
		Str("as_of", report.AsOf.String()).
		Int("due", report.Due).
		Int("grants", report.Grants).
		Int("processed", report.Processed).
		Int64("shares", report.Shares).
		Int("permanent_failures", report.Permanent).
		Int("transient_failures", report.Transient).
		Int("deferred", report.Deferred).
		Msg("vesting run finished")
	return report, ctx.Err()
}

// groupByGrant drops remembered rejections and keeps each grant's events in
// date order. order lists grants in first-seen order.
func (j *VestingJob) groupByGrant(due []equity.VestingEvent) (map[string][]equity.VestingEvent, []string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	byGrant := make(map[string][]equity.VestingEvent)
	var order []string
	taken := 0
	for _, e := range due {
		if _, skip := j.rejected[e.ID]; skip {
			continue
		}
		if j.BatchSize > 0 && taken >= j.BatchSize {
			break
		}
		if _, seen := byGrant[e.GrantID]; !seen {
			order = append(order, e.GrantID)
		}
		byGrant[e.GrantID] = append(byGrant[e.GrantID], e)
		taken++
	}
	for _, events := range byGrant {
		equity.SortEvents(events)
	}
	return byGrant, order
}

func (j *VestingJob) processGrant(ctx context.Context, grantID string, events []equity.VestingEvent) RunReport {
	var res RunReport
	for i, e := range events {
		if ctx.Err() != nil {
			res.Deferred += len(events) - i
			return res
		}
		ev, _, err := j.Processor.Process(ctx, e.ID)
		switch {
		case err == nil:
			res.Processed++
			res.Shares += ev.SharesVested
		case generic.IsPermanent(err) || generic.IsNotFound(err):
			res.Permanent++
			j.reject(e.ID)
			j.log.Error().Err(err).
				Str("grant_id", grantID).
				Str("event_id", e.ID).
				Msg("vesting event rejected")
		default:
			res.Transient++
			res.Deferred += len(events) - i - 1
			j.log.Warn().Err(err).
				Str("grant_id", grantID).
				Str("event_id", e.ID).
				Msg("vesting event failed, will retry next run")
			return res
		}
	}
	return res
}

func (j *VestingJob) reject(eventID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.MaxRejected > 0 && len(j.rejected) >= j.MaxRejected {
		return
	}
	j.rejected[eventID] = struct{}{}
}

// forgetResolved keeps only rejections still among the due events. due
// must be the complete due set.
func (j *VestingJob) forgetResolved(due []equity.VestingEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.rejected) == 0 {
		return
	}
	still := make(map[string]struct{}, len(j.rejected))
	for _, e := range due {
		if _, ok := j.rejected[e.ID]; ok {
			still[e.ID] = struct{}{}
		}
	}
	j.rejected = still
}

func (j *VestingJob) record(r RunReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, r)
	if len(j.runs) > keptRuns {
		j.runs = j.runs[len(j.runs)-keptRuns:]
	}
}

// Runs returns the most recent run reports, newest last.
func (j *VestingJob) Runs() []RunReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]RunReport(nil), j.runs...)
}
