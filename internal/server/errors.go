package server

import (
	"errors"
	"net/http"

	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/chartfile"
	"github.com/KumiProject/chartsets/internal/chartsets"
	"github.com/KumiProject/chartsets/internal/status"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorKind struct {
	target error
	status int
	kind   string
}

// errorKinds is checked in order; the first sentinel the error wraps wins.
var errorKinds = []errorKind{
	{target: archive.ErrArchiveTooLarge, status: http.StatusRequestEntityTooLarge, kind: "archive_too_large"},
	{target: archive.ErrMalformedArchive, status: http.StatusBadRequest, kind: "malformed_archive"},
	{target: archive.ErrNoChartsFound, status: http.StatusBadRequest, kind: "no_charts_found"},
	{target: archive.ErrEntryNotFound, status: http.StatusBadRequest, kind: "missing_archive_entry"},
	{target: chartfile.ErrMalformedChart, status: http.StatusBadRequest, kind: "malformed_chart"},
	{target: status.ErrInvalidStatus, status: http.StatusBadRequest, kind: "invalid_status"},
	{target: chartsets.ErrMetadataMismatch, status: http.StatusBadRequest, kind: "metadata_mismatch"},
	{target: chartsets.ErrUnknownCreator, status: http.StatusBadRequest, kind: "unknown_creator"},
	{target: chartsets.ErrSetAlreadyExists, status: http.StatusBadRequest, kind: "set_already_exists"},
	{target: chartsets.ErrChartNotPartOfSet, status: http.StatusBadRequest, kind: "chart_not_part_of_set"},
	{target: chartsets.ErrSetNotPending, status: http.StatusBadRequest, kind: "set_not_pending"},
	{target: chartsets.ErrAlreadyNominated, status: http.StatusBadRequest, kind: "already_nominated"},
	{target: chartsets.ErrInvalidPost, status: http.StatusBadRequest, kind: "invalid_post"},
	{target: chartsets.ErrStatusLocked, status: http.StatusBadRequest, kind: "status_locked"},
	{target: chartsets.ErrNotOwner, status: http.StatusForbidden, kind: "not_owner"},
	{target: chartsets.ErrNoPermission, status: http.StatusForbidden, kind: "no_permission"},
	{target: chartsets.ErrSetNotFound, status: http.StatusNotFound, kind: "set_not_found"},
	{target: chartsets.ErrPostNotFound, status: http.StatusNotFound, kind: "post_not_found"},
	{target: chartsets.ErrChartNotFound, status: http.StatusNotFound, kind: "chart_not_found"},
}

func classifyError(err error) (int, string) {
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.target) {
			return candidate.status, candidate.kind
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes the error body. Client errors carry the error text so
// uploaders can see which chart or field was rejected.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	statusCode, kind := classifyError(err)
	body := gin.H{"error": kind}
	var serviceErr *chartsets.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if statusCode < http.StatusInternalServerError {
		body["message"] = err.Error()
		var mismatch *chartsets.MetadataMismatchError
		if errors.As(err, &mismatch) {
			body["entry"] = mismatch.Entry
			body["fields"] = mismatch.Fields
		}
	} else {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(statusCode, body)
}
