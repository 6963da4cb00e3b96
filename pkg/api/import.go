package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mamdani-tracker/tracker/pkg/csvimport"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/rbac"
)

func boolQuery(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// csvBody returns the uploaded CSV: the multipart "file" part when the
// request is a form upload, otherwise the raw body
func (h *Handler) csvBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			if errors.As(err, new(*http.MaxBytesError)) {
				return nil, err
			}
			return nil, &models.ValidationError{Field: "file", Message: err.Error()}
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, &models.ValidationError{Field: "file", Message: "multipart upload needs a \"file\" part"}
		}
		return file, nil
	}
	return r.Body, nil
}

// ImportContent creates or updates rows from a CSV upload.
// ?dry_run=true validates without writing; ?publish=true publishes the
// imported rows.
func (h *Handler) ImportContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	opts := csvimport.Options{
		DryRun:  boolQuery(r, "dry_run"),
		Publish: boolQuery(r, "publish"),
	}
	if opts.Publish {
		if err := rbac.CheckPermission(r.Context(), models.PermContentPublish); err != nil {
			h.writeStoreError(w, r, err)
			return
		}
	}

	body, err := h.csvBody(w, r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	defer body.Close()

	parsed, err := csvimport.Parse(kind, body)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	report, err := h.importer.Import(r.Context(), parsed, opts)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.metrics != nil && !opts.DryRun {
		h.metrics.RecordImport(string(kind), report.Created, report.Updated, report.Skipped)
	}
	if report.Changed() {
		h.invalidate("import " + string(kind))
	}
	writeJSON(w, http.StatusOK, report)
}
