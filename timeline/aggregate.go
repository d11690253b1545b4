package timeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// AGGREGATOR - One chronological view over every timeline
// =============================================================================

type EntryKind string

const (
	EntryEmployment EntryKind = "employment"
	EntrySalary     EntryKind = "salary"
	EntryLocalData  EntryKind = "local_data"
	EntryGrant      EntryKind = "equity_grant"
	EntryVesting    EntryKind = "vesting"
	EntryDocument   EntryKind = "document"
)

// kindOrder breaks ties between entries on the same date.
var kindOrder = map[EntryKind]int{
	EntryEmployment: 0,
	EntrySalary:     1,
	EntryLocalData:  2,
	EntryGrant:      3,
	EntryVesting:    4,
	EntryDocument:   5,
}

type Entry struct {
	Date   generic.TimePoint `json:"date"`
	Kind   EntryKind         `json:"kind"`
	Title  string            `json:"title"`
	RefID  string            `json:"ref_id"`
	Future bool              `json:"future"`
	Data   any               `json:"data,omitempty"`
}

// EquitySource supplies an employee's grants and vesting ledger.
type EquitySource interface {
	EmployeeEquity(ctx context.Context, employeeID string) ([]equity.Grant, []equity.VestingEvent, error)
}

type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Category string            `json:"category"`
	Date     generic.TimePoint `json:"date"`
}

// DocumentSource is the documents subsystem. It only contributes entries.
type DocumentSource interface {
	DocumentsForEmployee(ctx context.Context, employeeID string) ([]Document, error)
}

// Filter narrows an aggregated view. Zero values mean unbounded / all kinds.
type Filter struct {
	From  generic.TimePoint
	To    generic.TimePoint
	Kinds []EntryKind
}

func (f Filter) keep(e Entry) bool {
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Aggregator merges the sources it is given. Nil sources are skipped.
type Aggregator struct {
	Employment *EmploymentTimeline
	Salary     *SalaryTimeline
	LocalData  *LocalDataTimeline
	Equity     EquitySource
	Documents  DocumentSource
	Clock      generic.Clock
}

// Aggregate loads every source concurrently and returns the entries sorted
// by date, then kind.
func (a *Aggregator) Aggregate(ctx context.Context, employeeID string, filter Filter) ([]Entry, error) {
	if employeeID == "" {
		return nil, &generic.ValidationError{Field: "employee_id", Message: "is required"}
	}

	var (
		employment []Entry
		salary     []Entry
		local      []Entry
		grants     []Entry
		documents  []Entry
	)
	g, ctx := errgroup.WithContext(ctx)

	if a.Employment != nil {
		g.Go(func() error {
			h, err := a.Employment.History(ctx, employeeID)
			if err != nil {
				return fmt.Errorf("employment history: %w", err)
			}
			for _, v := range h {
				employment = append(employment, Entry{
					Date:  v.EffectiveDate,
					Kind:  EntryEmployment,
					Title: fmt.Sprintf("%s, %s (%s)", v.Payload.JobTitle, v.Payload.Department, v.Payload.Status),
					RefID: string(v.ID),
					Data:  v.Payload,
				})
			}
			return nil
		})
	}
	if a.Salary != nil {
		g.Go(func() error {
			h, err := a.Salary.History(ctx, employeeID)
			if err != nil {
				return fmt.Errorf("salary history: %w", err)
			}
			for _, v := range h {
				salary = append(salary, Entry{
					Date:  v.EffectiveDate,
					Kind:  EntrySalary,
					Title: fmt.Sprintf("Salary %s %s %s", v.Payload.Amount.StringFixed(2), v.Payload.Currency, v.Payload.Frequency),
					RefID: string(v.ID),
					Data:  v.Payload,
				})
			}
			return nil
		})
	}
	if a.LocalData != nil {
		g.Go(func() error {
			h, err := a.LocalData.History(ctx, employeeID)
			if err != nil {
				return fmt.Errorf("local data history: %w", err)
			}
			for _, v := range h {
				local = append(local, Entry{
					Date:  v.EffectiveDate,
					Kind:  EntryLocalData,
					Title: "Local data for " + v.Payload.CountryCode,
					RefID: string(v.ID),
					Data:  v.Payload,
				})
			}
			return nil
		})
	}
	if a.Equity != nil {
		g.Go(func() error {
			gs, events, err := a.Equity.EmployeeEquity(ctx, employeeID)
			if err != nil {
				return fmt.Errorf("equity: %w", err)
			}
			grants = equityEntries(gs, events)
			return nil
		})
	}
	if a.Documents != nil {
		g.Go(func() error {
			docs, err := a.Documents.DocumentsForEmployee(ctx, employeeID)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			for _, d := range docs {
				documents = append(documents, Entry{
					Date:  d.Date,
					Kind:  EntryDocument,
					Title: d.Title,
					RefID: d.ID,
					Data:  d,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	today := generic.Today(a.Clock)
	all := make([]Entry, 0, len(employment)+len(salary)+len(local)+len(grants)+len(documents))
	for _, group := range [][]Entry{employment, salary, local, grants, documents} {
		for _, e := range group {
			e.Future = e.Date.After(today)
			if filter.keep(e) {
				all = append(all, e)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if c := all[i].Date.Compare(all[j].Date); c != 0 {
			return c < 0
		}
		return kindOrder[all[i].Kind] < kindOrder[all[j].Kind]
	})
	return all, nil
}

func equityEntries(grants []equity.Grant, events []equity.VestingEvent) []Entry {
	var out []Entry
	for _, gr := range grants {
		out = append(out, Entry{
			Date:  gr.GrantDate,
			Kind:  EntryGrant,
			Title: fmt.Sprintf("Granted %d shares (%s)", gr.SharesGranted, gr.VestingType),
			RefID: gr.ID,
			Data:  gr,
		})
	}
	for _, e := range events {
		title := fmt.Sprintf("%d shares scheduled to vest", e.SharesVested)
		if !e.IsScheduled {
			title = fmt.Sprintf("%d shares vested", e.SharesVested)
		}
		out = append(out, Entry{
			Date:  e.VestingDate,
			Kind:  EntryVesting,
			Title: title,
			RefID: e.ID,
			Data:  e,
		})
	}
	return out
}
