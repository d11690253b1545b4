package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/generic/store"
	"github.com/warp/people-engine/ingest"
	"github.com/warp/people-engine/timeline"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

// workbook builds an in-memory xlsx with rows on the first sheet.
func workbook(t *testing.T, rows ...[]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func newSalary(t *testing.T) *timeline.SalaryTimeline {
	t.Helper()
	rates := timeline.NewStaticRates()
	rates.Set("EUR", "USD", decimal.RequireFromString("1.10"))
	temporal := generic.NewTemporalStore(store.NewMemory(), generic.FixedClockOn(date("2025-06-15")))
	return timeline.NewSalaryTimeline(temporal, rates, "USD")
}

// =============================================================================
// SALARIES
// =============================================================================

func TestImportSalaries_AppliesRowsInDateOrder(t *testing.T) {
	ctx := context.Background()
	salary := newSalary(t)

	// GIVEN: A sheet listing emp-1's raise before the starting salary
	file := workbook(t,
		[]any{"Employee ID", "Effective Date", "Amount", "Currency", "Frequency", "Reason"},
		[]any{"emp-1", "2025-04-01", "110,000", "USD", "annual", "Promotion"},
		[]any{"emp-1", "2025-01-01", "100000", "USD", "annual", "Hire"},
		[]any{"emp-2", "3/1/2025", "5000", "eur", "Monthly", ""},
	)

	// WHEN: The sheet is imported
	report, err := ingest.ImportSalaries(ctx, file, salary, zerolog.Nop())
	require.NoError(t, err)

	// THEN: Every row lands
	assert.Equal(t, 3, report.Rows)
	assert.Equal(t, 3, report.Imported)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.Errors)

	history, err := salary.History(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-01-01", history[0].EffectiveDate.String())
	assert.Equal(t, "110000", history[1].Payload.Amount.String())

	// AND: Currency and frequency were normalized before validation
	v, ok, err := salary.Current(ctx, "emp-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "EUR", v.Payload.Currency)
	assert.Equal(t, "66000", v.Payload.AnnualizedAmount.String())
}

func TestImportSalaries_CollectsRowErrors(t *testing.T) {
	ctx := context.Background()
	salary := newSalary(t)

	file := workbook(t,
		[]any{"employee_id", "effective_date", "amount", "currency", "frequency"},
		[]any{"emp-1", "2025-01-01", "100000", "USD", "annual"},
		[]any{"", "2025-01-01", "100000", "USD", "annual"},
		[]any{"emp-2", "not a date", "100000", "USD", "annual"},
		[]any{"emp-3", "2025-01-01", "lots", "USD", "annual"},
		[]any{"emp-4", "2025-01-01", "100", "GBP", "annual"},
		[]any{"emp-1", "2024-06-01", "90000", "USD", "annual"},
		[]any{},
		[]any{"emp-5", "2025-01-01", "-5", "USD", "annual"},
	)

	report, err := ingest.ImportSalaries(ctx, file, salary, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 7, report.Rows)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 5, report.Failed)

	fields := map[int]string{}
	for _, e := range report.Errors {
		fields[e.Row] = e.Field
	}
	assert.Equal(t, map[int]string{
		3: "employee_id",
		4: "effective_date",
		5: "amount",
		6: "currency",
		9: "amount",
	}, fields)
}

func TestImportSalaries_MissingColumn(t *testing.T) {
	file := workbook(t,
		[]any{"employee_id", "effective_date", "amount", "currency"},
		[]any{"emp-1", "2025-01-01", "100000", "USD"},
	)

	_, err := ingest.ImportSalaries(context.Background(), file, newSalary(t), zerolog.Nop())

	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "frequency", ve.Field)
}

func TestImportSalaries_NotAWorkbook(t *testing.T) {
	_, err := ingest.ImportSalaries(context.Background(), bytes.NewReader([]byte("a,b,c")), newSalary(t), zerolog.Nop())
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// failingWriter returns an infrastructure error for every row.
type failingWriter struct{}

func (failingWriter) Insert(context.Context, string, generic.TimePoint, timeline.SalaryInput) (generic.RecordID, error) {
	return "", errors.New("disk full")
}

func TestImportSalaries_StopsOnInfrastructureError(t *testing.T) {
	file := workbook(t,
		[]any{"employee_id", "effective_date", "amount", "currency", "frequency"},
		[]any{"emp-1", "2025-01-01", "100000", "USD", "annual"},
		[]any{"emp-2", "2025-01-01", "100000", "USD", "annual"},
	)

	report, err := ingest.ImportSalaries(context.Background(), file, failingWriter{}, zerolog.Nop())

	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, report.Imported)
}

// =============================================================================
// EMPLOYMENT
// =============================================================================

func TestImportEmployment(t *testing.T) {
	ctx := context.Background()
	temporal := generic.NewTemporalStore(store.NewMemory(), generic.FixedClockOn(date("2025-06-15")))
	emp := timeline.NewEmploymentTimeline(temporal, nil)

	file := workbook(t,
		[]any{"employee_id", "effective_date", "job_title", "department", "manager_id", "employment_type", "status", "location"},
		[]any{"emp-1", "2025-01-01", "Engineer", "Platform", "emp-9", "FULL_TIME", "active", "Berlin"},
		[]any{"emp-1", "2025-07-01", "Senior Engineer", "Platform", "emp-9", "full_time", "active", "Berlin"},
		[]any{"emp-2", "2025-01-01", "Intern", "Design", "emp-2", "intern", "active", ""},
	)

	report, err := ingest.ImportEmployment(ctx, file, emp, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "manager_id", report.Errors[0].Field)

	v, ok, err := emp.AsOf(ctx, "emp-1", date("2025-08-01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Senior Engineer", v.Payload.JobTitle)
}

// =============================================================================
// TEMPLATE
// =============================================================================

func TestTemplateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ingest.Template(&buf, ingest.SalaryColumns))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ingest.SalaryColumns, rows[0])
}
