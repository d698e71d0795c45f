package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

type ReportSummaryData struct {
	ReportID    string
	ModuleType  string
	GeneratedAt string
	CostCharged string

	OverallScore   string
	Grade          string
	Recommendation string
	RiskLevel      string

	Sections []SummarySection
}

type SummarySection struct {
	Title string
	Lines []string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReportSummary(ctx context.Context, data ReportSummaryData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Vehicle Condition Report", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Report: "+data.ReportID, props.Text{Top: 0}),
			text.New("Analysis: "+data.ModuleType, props.Text{Top: 4}),
			text.New("Generated: "+data.GeneratedAt, props.Text{Top: 8}),
			text.New("Credits charged: "+data.CostCharged, props.Text{Top: 12}),
		),
		col.New(6),
	)

	if data.OverallScore != "" {
		m.AddRow(10,
			text.NewCol(3, "Overall score", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, data.OverallScore, props.Text{Size: 9}),
			text.NewCol(3, "Grade", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, data.Grade, props.Text{Size: 9}),
		)
		m.AddRow(10,
			text.NewCol(3, "Recommendation", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, data.Recommendation, props.Text{Size: 9}),
			text.NewCol(3, "Risk level", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, data.RiskLevel, props.Text{Size: 9}),
		)
	}

	for _, section := range data.Sections {
		m.AddRow(10,
			text.NewCol(12, section.Title, props.Text{
				Size:  12,
				Style: fontstyle.Bold,
				Top:   3,
			}),
		)
		for _, line := range section.Lines {
			m.AddRow(7,
				text.NewCol(12, line, props.Text{Size: 9}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

// BuildSummary flattens a completed report's stored payload into
// renderable sections. It is deliberately lossy: nested structures
// render as sorted key/value lines, which is enough for a human
// summary while the JSON payload stays the machine-readable artifact.
func BuildSummary(report reportdomain.Report) ReportSummaryData {
	data := ReportSummaryData{
		ReportID:    report.ID.String(),
		ModuleType:  string(report.ModuleType),
		GeneratedAt: report.CreatedAt.Format("2006-01-02 15:04 MST"),
		CostCharged: fmt.Sprintf("%d", report.CostCharged),
	}

	payload := map[string]any(report.ResultPayload)
	if score, ok := payload["overall_score"]; ok {
		data.OverallScore = formatValue(score)
		data.Grade = formatValue(payload["grade"])
		data.Recommendation = formatValue(payload["recommendation"])
		data.RiskLevel = formatValue(payload["risk_level"])
	}

	if modules, ok := payload["modules"].(map[string]any); ok {
		for _, name := range sortedKeys(modules) {
			data.Sections = append(data.Sections, buildSection(name, modules[name]))
		}
		return data
	}

	if module, ok := payload["module"].(string); ok {
		if inner, ok := payload[module]; ok {
			data.Sections = append(data.Sections, buildSection(module, inner))
		}
	}
	return data
}

func buildSection(name string, value any) SummarySection {
	section := SummarySection{Title: strings.ToUpper(name[:1]) + name[1:] + " analysis"}

	fields, ok := value.(map[string]any)
	if !ok {
		section.Lines = []string{formatValue(value)}
		return section
	}
	if inner, ok := fields[name].(map[string]any); ok {
		fields = inner
	}
	for _, key := range sortedKeys(fields) {
		section.Lines = append(section.Lines, strings.ReplaceAll(key, "_", " ")+": "+formatValue(fields[key]))
	}
	return section
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.1f", v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
