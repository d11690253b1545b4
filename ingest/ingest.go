/*
Package ingest imports effective-dated changes from spreadsheets.

PURPOSE:
  HR teams keep salary reviews and reorgs in spreadsheets. An import turns
  each row into one timeline insert, so the rows go through exactly the
  same validation and partition rules as API writes.

FORMAT:
  First sheet, first non-empty row is the header. Header names are matched
  case-insensitively after trimming; spaces and dashes count as
  underscores. Dates may be ISO (2025-03-01), US (3/1/2025) or raw Excel
  serial numbers.

ORDERING:
  Rows are applied per employee in effective-date order, whatever order the
  sheet lists them in. A failed row is recorded in the Report and the
  import carries on with the next row.

SEE ALSO:
  - timeline/salary.go, timeline/employment.go: the writers rows go through
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/timeline"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// REPORT
// =============================================================================

// RowError describes one rejected row. Row is the 1-based sheet row.
type RowError struct {
	Row        int    `json:"row"`
	EmployeeID string `json:"employee_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

type Report struct {
	Sheet    string     `json:"sheet"`
	Rows     int        `json:"rows"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

func (r *Report) fail(row int, employeeID string, err error) {
	re := RowError{Row: row, EmployeeID: employeeID, Message: err.Error()}
	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		re.Field = ve.Field
		re.Message = ve.Message
	}
	r.Failed++
	r.Errors = append(r.Errors, re)
}

// =============================================================================
// WRITERS
// =============================================================================

// SalaryWriter is satisfied by *timeline.SalaryTimeline.
type SalaryWriter interface {
	Insert(ctx context.Context, employeeID string, effective generic.TimePoint, in timeline.SalaryInput) (generic.RecordID, error)
}

// EmploymentWriter is satisfied by *timeline.EmploymentTimeline.
type EmploymentWriter interface {
	Insert(ctx context.Context, employeeID string, effective generic.TimePoint, p timeline.EmploymentPayload) (generic.RecordID, error)
}

var (
	SalaryColumns     = []string{"employee_id", "effective_date", "amount", "currency", "frequency", "reason"}
	EmploymentColumns = []string{"employee_id", "effective_date", "job_title", "department", "manager_id", "employment_type", "status", "location", "reason"}

	salaryRequired     = []string{"employee_id", "effective_date", "amount", "currency", "frequency"}
	employmentRequired = []string{"employee_id", "effective_date", "job_title", "department", "employment_type", "status"}
)

// =============================================================================
// IMPORTS
// =============================================================================

// ImportSalaries applies one salary change per row.
func ImportSalaries(ctx context.Context, r io.Reader, w SalaryWriter, log zerolog.Logger) (Report, error) {
	return importSheet(ctx, r, salaryRequired, log.With().Str("import", "salary").Logger(),
		func(ctx context.Context, row sheetRow) error {
			amount, err := decimal.NewFromString(strings.ReplaceAll(row.get("amount"), ",", ""))
			if err != nil {
				return &generic.ValidationError{Field: "amount", Message: fmt.Sprintf("invalid amount %q", row.get("amount"))}
			}
			_, err = w.Insert(ctx, row.employeeID, row.effective, timeline.SalaryInput{
				Amount:    amount,
				Currency:  strings.ToUpper(row.get("currency")),
				Frequency: timeline.PayFrequency(strings.ToLower(row.get("frequency"))),
				Reason:    row.get("reason"),
			})
			return err
		})
}

// ImportEmployment applies one job change per row.
func ImportEmployment(ctx context.Context, r io.Reader, w EmploymentWriter, log zerolog.Logger) (Report, error) {
	return importSheet(ctx, r, employmentRequired, log.With().Str("import", "employment").Logger(),
		func(ctx context.Context, row sheetRow) error {
			_, err := w.Insert(ctx, row.employeeID, row.effective, timeline.EmploymentPayload{
				JobTitle:       row.get("job_title"),
				Department:     row.get("department"),
				ManagerID:      row.get("manager_id"),
				EmploymentType: timeline.EmploymentType(strings.ToLower(row.get("employment_type"))),
				Status:         timeline.EmploymentStatus(strings.ToLower(row.get("status"))),
				Location:       row.get("location"),
				Reason:         row.get("reason"),
			})
			return err
		})
}

// Template returns an empty workbook with the given header row, for
// users to fill in.
func Template(w io.Writer, columns []string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	_, err := f.WriteTo(w)
	return err
}

// =============================================================================
// SHEET PARSING
// =============================================================================

type sheetRow struct {
	number     int
	employeeID string
	effective  generic.TimePoint
	cells      map[string]string
}

func (r sheetRow) get(col string) string { return r.cells[col] }

func importSheet(ctx context.Context, r io.Reader, required []string, log zerolog.Logger, apply func(context.Context, sheetRow) error) (Report, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Report{}, &generic.ValidationError{Field: "file", Message: fmt.Sprintf("not a readable xlsx file: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Report{}, &generic.ValidationError{Field: "file", Message: "workbook has no sheets"}
	}
	report := Report{Sheet: sheets[0], Errors: []RowError{}}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return report, fmt.Errorf("read rows from %s: %w", sheets[0], err)
	}
	header, dataStart := findHeader(raw)
	if header == nil {
		return report, &generic.ValidationError{Field: "file", Message: "no header row found"}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[normalizeHeader(h)] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return report, &generic.ValidationError{Field: col, Message: "column is missing from the header row"}
		}
	}

	var rows []sheetRow
	for i := dataStart; i < len(raw); i++ {
		cells := make(map[string]string, len(index))
		empty := true
		for col, idx := range index {
			if idx < len(raw[i]) {
				v := strings.TrimSpace(raw[i][idx])
				cells[col] = v
				if v != "" {
					empty = false
				}
			}
		}
		if empty {
			continue
		}
		report.Rows++

		row := sheetRow{number: i + 1, employeeID: cells["employee_id"], cells: cells}
		if row.employeeID == "" {
			report.fail(row.number, "", &generic.ValidationError{Field: "employee_id", Message: "is required"})
			continue
		}
		if row.effective, err = parseCellDate(cells["effective_date"]); err != nil {
			report.fail(row.number, row.employeeID, err)
			continue
		}
		rows = append(rows, row)
	}

	// Each employee's rows must arrive oldest first for inserts to succeed.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].employeeID != rows[j].employeeID {
			return rows[i].employeeID < rows[j].employeeID
		}
		return rows[i].effective.Before(rows[j].effective)
	})

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := apply(ctx, row); err != nil {
			if !generic.IsClientError(err) && !generic.IsRetryable(err) {
				return report, fmt.Errorf("row %d: %w", row.number, err)
			}
			report.fail(row.number, row.employeeID, err)
			continue
		}
		report.Imported++
	}

	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].Row < report.Errors[j].Row })
	log.Info().
		Str("sheet", report.Sheet).
		Int("rows", report.Rows).
		Int("imported", report.Imported).
		Int("failed", report.Failed).
		Msg("import finished")
	return report, nil
}

func findHeader(raw [][]string) ([]string, int) {
	for i, row := range raw {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				return row, i + 1
			}
		}
	}
	return nil, 0
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return strings.Trim(h, "_")
}

var dateLayouts = []string{generic.DateLayout, "1/2/2006", "01-02-06", "1/2/06"}

func parseCellDate(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, &generic.ValidationError{Field: "effective_date", Message: "is required"}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return generic.DateOf(t), nil
		}
	}
	// Unformatted date cells come through as serial numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return generic.DateOf(t), nil
		}
	}
	return generic.TimePoint{}, &generic.ValidationError{Field: "effective_date", Message: fmt.Sprintf("invalid date %q", s)}
}
