package api

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/people-engine/ingest"
)

// =============================================================================
// SPREADSHEET IMPORTS
// =============================================================================
//
//   POST /api/imports/salaries      multipart form, field "file" (.xlsx)
//   POST /api/imports/employment    multipart form, field "file" (.xlsx)
//   GET  /api/imports/templates/{kind}   empty workbook with the header row
//
// Row failures come back in the report with 200; only an unreadable file
// or a storage failure fails the request.

const maxUploadBytes = 10 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) ImportSalaries(w http.ResponseWriter, r *http.Request) {
	file, ok := uploadedFile(w, r)
	if !ok {
		return
	}
	report, err := ingest.ImportSalaries(r.Context(), file, h.Salary, *hlog.FromRequest(r))
	writeImport(w, r, report, err)
}

func (h *Handler) ImportEmployment(w http.ResponseWriter, r *http.Request) {
	file, ok := uploadedFile(w, r)
	if !ok {
		return
	}
	report, err := ingest.ImportEmployment(r.Context(), file, h.Employment, *hlog.FromRequest(r))
	writeImport(w, r, report, err)
}

// GetImportTemplate serves an empty workbook for "salaries" or "employment".
func (h *Handler) GetImportTemplate(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	var columns []string
	switch kind {
	case "salaries":
		columns = ingest.SalaryColumns
	case "employment":
		columns = ingest.EmploymentColumns
	default:
		writeError(w, http.StatusNotFound, "Unknown template "+kind, nil)
		return
	}

	var buf bytes.Buffer
	if err := ingest.Template(&buf, columns); err != nil {
		writeDomainError(w, r, "Failed to build template", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+kind+`-template.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func uploadedFile(w http.ResponseWriter, r *http.Request) (*bytes.Reader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Expected a multipart upload", err)
		return nil, false
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `Missing form field "file"`, err)
		return nil, false
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload", err)
		return nil, false
	}
	return bytes.NewReader(buf.Bytes()), true
}

func writeImport(w http.ResponseWriter, r *http.Request, report ingest.Report, err error) {
	if err != nil {
		writeDomainError(w, r, "Import failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
