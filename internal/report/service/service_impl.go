package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/autora/internal/audit/domain"
	"github.com/smallbiznis/autora/internal/clock"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
	"github.com/smallbiznis/autora/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func NewService(p Params) reportdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("report.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req reportdomain.CreateReportRequest) (reportdomain.Report, error) {
	if req.UserID == 0 {
		return reportdomain.Report{}, reportdomain.ErrInvalidUser
	}
	if !req.ModuleType.Valid() {
		return reportdomain.Report{}, reportdomain.ErrInvalidModule
	}
	if req.CostCharged <= 0 {
		return reportdomain.Report{}, reportdomain.ErrInvalidCost
	}

	id := req.ReportID
	if id == 0 {
		id = s.genID.Generate()
	}
	now := s.clock.Now()
	report := reportdomain.Report{
		ID:          id,
		UserID:      req.UserID,
		ModuleType:  req.ModuleType,
		Status:      reportdomain.StatusProcessing,
		CostCharged: req.CostCharged,
		InputRefs:   datatypes.NewJSONSlice(req.InputRefs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		return reportdomain.Report{}, fmt.Errorf("create report: %w", err)
	}

	s.audit(ctx, report.UserID, "report.created", report.ID, map[string]any{
		"module": string(report.ModuleType),
		"cost":   report.CostCharged,
	})
	return report, nil
}

func (s *Service) Complete(ctx context.Context, userID, reportID snowflake.ID, payload map[string]any) error {
	if len(payload) == 0 {
		return reportdomain.ErrEmptyPayload
	}

	err := s.transition(ctx, userID, reportID, reportdomain.StatusCompleted, map[string]any{
		"result_payload": datatypes.JSONMap(payload),
	})
	if err != nil {
		return err
	}

	s.audit(ctx, userID, "report.completed", reportID, nil)
	return nil
}

func (s *Service) Fail(ctx context.Context, userID, reportID snowflake.ID, note string) error {
	err := s.transition(ctx, userID, reportID, reportdomain.StatusFailed, map[string]any{
		"failure_note": strings.TrimSpace(note),
	})
	if err != nil {
		return err
	}

	s.audit(ctx, userID, "report.failed", reportID, map[string]any{"note": note})
	return nil
}

// transition performs a guarded processing -> terminal update. The
// status guard in the WHERE clause is what makes terminal states sticky
// under racing completion and failure paths.
func (s *Service) transition(ctx context.Context, userID, reportID snowflake.ID, target reportdomain.ReportStatus, fields map[string]any) error {
	if userID == 0 {
		return reportdomain.ErrInvalidUser
	}

	updates := map[string]any{
		"status":     target,
		"updated_at": s.clock.Now(),
	}
	for key, value := range fields {
		updates[key] = value
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&reportdomain.Report{}).
			Where("id = ? AND user_id = ? AND status = ?", reportID, userID, reportdomain.StatusProcessing).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("update report %s: %w", reportID, result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var existing reportdomain.Report
		err := tx.Where("id = ? AND user_id = ?", reportID, userID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reportdomain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load report %s: %w", reportID, err)
		}
		return reportdomain.ErrInvalidTransition
	})
}

func (s *Service) Get(ctx context.Context, userID, reportID snowflake.ID) (reportdomain.Report, error) {
	if userID == 0 {
		return reportdomain.Report{}, reportdomain.ErrInvalidUser
	}

	var report reportdomain.Report
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", reportID, userID).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return reportdomain.Report{}, reportdomain.ErrNotFound
	}
	if err != nil {
		return reportdomain.Report{}, fmt.Errorf("load report %s: %w", reportID, err)
	}
	return report, nil
}

func (s *Service) List(ctx context.Context, req reportdomain.ListReportsRequest) (reportdomain.ListReportsResponse, error) {
	if req.UserID == 0 {
		return reportdomain.ListReportsResponse{}, reportdomain.ErrInvalidUser
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("id DESC").
		Limit(limit + 1)

	if req.ModuleType != "" {
		query = query.Where("module_type = ?", req.ModuleType)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return reportdomain.ListReportsResponse{}, reportdomain.ErrInvalidPageToken
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return reportdomain.ListReportsResponse{}, reportdomain.ErrInvalidPageToken
		}
		query = query.Where("id < ?", lastID)
	}

	var rows []*reportdomain.Report
	if err := query.Find(&rows).Error; err != nil {
		return reportdomain.ListReportsResponse{}, fmt.Errorf("list reports: %w", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(limit), func(r *reportdomain.Report) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: r.ID.String()})
		return token
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]reportdomain.Report, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return reportdomain.ListReportsResponse{
		PageInfo: *pageInfo,
		Reports:  out,
	}, nil
}

func (s *Service) MarkPDFExported(ctx context.Context, userID, reportID snowflake.ID) error {
	if userID == 0 {
		return reportdomain.ErrInvalidUser
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&reportdomain.Report{}).
			Where("id = ? AND user_id = ? AND status = ?", reportID, userID, reportdomain.StatusCompleted).
			Updates(map[string]any{
				"pdf_exported_at": now,
				"updated_at":      now,
			})
		if result.Error != nil {
			return fmt.Errorf("mark report %s exported: %w", reportID, result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var existing reportdomain.Report
		err := tx.Where("id = ? AND user_id = ?", reportID, userID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reportdomain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load report %s: %w", reportID, err)
		}
		return reportdomain.ErrNotCompleted
	})
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action string, reportID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := reportID.String()
	if err := s.auditSvc.AuditLog(ctx, userID, action, "report", &targetID, metadata); err != nil {
		s.log.Warn("failed to write report audit log", zap.Error(err))
	}
}
