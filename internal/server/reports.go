package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/autora/internal/providers/pdf"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
	"github.com/smallbiznis/autora/pkg/db/pagination"
)

func parseReportID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func reportView(report reportdomain.Report) gin.H {
	view := gin.H{
		"id":           report.ID.String(),
		"module":       string(report.ModuleType),
		"status":       string(report.Status),
		"cost_charged": report.CostCharged,
		"input_refs":   []string(report.InputRefs),
		"created_at":   report.CreatedAt,
		"updated_at":   report.UpdatedAt,
	}
	if len(report.ResultPayload) > 0 {
		view["result"] = map[string]any(report.ResultPayload)
	}
	if report.FailureNote != "" {
		view["failure_note"] = report.FailureNote
	}
	if report.PDFExportedAt != nil {
		view["pdf_exported_at"] = report.PDFExportedAt
	}
	return view
}

func (s *Server) GetReport(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		AbortWithError(c, reportdomain.ErrNotFound)
		return
	}

	report, err := s.reportSvc.Get(c.Request.Context(), userID, reportID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reportView(report))
}

func (s *Server) ListReports(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.reportSvc.List(c.Request.Context(), reportdomain.ListReportsRequest{
		Pagination: page,
		UserID:     userID,
		ModuleType: reportdomain.ModuleType(strings.TrimSpace(c.Query("module"))),
		Status:     reportdomain.ReportStatus(strings.TrimSpace(c.Query("status"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reports := make([]gin.H, 0, len(resp.Reports))
	for _, report := range resp.Reports {
		reports = append(reports, reportView(report))
	}
	c.JSON(http.StatusOK, gin.H{
		"reports":   reports,
		"page_info": resp.PageInfo,
	})
}

// ExportReport renders a completed report as PDF and stamps the export
// marker. Export is repeatable; the marker just records that it
// happened at least once.
func (s *Server) ExportReport(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		AbortWithError(c, reportdomain.ErrNotFound)
		return
	}

	report, err := s.reportSvc.Get(c.Request.Context(), userID, reportID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if report.Status != reportdomain.StatusCompleted {
		AbortWithError(c, reportdomain.ErrNotCompleted)
		return
	}

	doc, err := s.pdfProvider.GenerateReportSummary(c.Request.Context(), pdf.BuildSummary(report))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.reportSvc.MarkPDFExported(c.Request.Context(), userID, reportID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="report-`+reportID.String()+`.pdf"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if doc != nil {
		_, _ = io.Copy(c.Writer, doc)
	}
}
