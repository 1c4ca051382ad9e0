package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iam-api/internal/service"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
	"github.com/noah-isme/iam-api/pkg/response"
)

const defaultActivityWindow = 30 * 24 * time.Hour

// ReportHandler exposes session activity exports.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Sessions godoc
// @Summary Session activity report
// @Description Export recent refresh-token activity as CSV or PDF
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param format query string false "Export format (csv or pdf)"
// @Param days query int false "Lookback window in days"
// @Param limit query int false "Max rows"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reports/sessions [get]
func (h *ReportHandler) Sessions(c *gin.Context) {
	if h.reports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "reporting not configured"))
		return
	}

	window := defaultActivityWindow
	if days, err := strconv.Atoi(c.Query("days")); err == nil && days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	limit := 1000
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	since := time.Now().Add(-window)

	switch c.DefaultQuery("format", "csv") {
	case "csv":
		data, err := h.reports.RenderCSV(c.Request.Context(), since, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		h.serve(c, data, "text/csv", "csv")
	case "pdf":
		data, err := h.reports.RenderPDF(c.Request.Context(), since, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		h.serve(c, data, "application/pdf", "pdf")
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
	}
}

func (h *ReportHandler) serve(c *gin.Context, data []byte, mimeType, ext string) {
	filename := fmt.Sprintf("session-activity-%s.%s", time.Now().Format("20060102"), ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mimeType, data)
}
