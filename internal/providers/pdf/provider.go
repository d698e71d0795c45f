package pdf

import (
	"context"
	"io"
)

// Provider renders a completed analysis report as a PDF summary.
type Provider interface {
	GenerateReportSummary(ctx context.Context, data ReportSummaryData) (io.Reader, error)
}

// NoOpProvider satisfies Provider without producing output, for
// deployments that disable export.
type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReportSummary(ctx context.Context, data ReportSummaryData) (io.Reader, error) {
	return nil, nil
}
