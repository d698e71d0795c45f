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
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/autora/internal/audit/domain"
	"github.com/smallbiznis/autora/internal/clock"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/autora/internal/observability/metrics"
	"github.com/smallbiznis/autora/pkg/db"
	"github.com/smallbiznis/autora/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) EnsureAccount(ctx context.Context, userID snowflake.ID) (creditdomain.CreditAccount, error) {
	if userID == 0 {
		return creditdomain.CreditAccount{}, creditdomain.ErrInvalidUser
	}

	var account creditdomain.CreditAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		result := tx.Exec(
			`INSERT INTO credit_accounts (id, user_id, balance, created_at, updated_at)
			 VALUES (?, ?, 0, ?, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			s.genID.Generate(), userID, now, now,
		)
		if result.Error != nil {
			return result.Error
		}
		return tx.Where("user_id = ?", userID).First(&account).Error
	})
	if err != nil {
		return creditdomain.CreditAccount{}, fmt.Errorf("ensure credit account: %w", err)
	}
	return account, nil
}

func (s *Service) Purchase(ctx context.Context, userID snowflake.ID, amount int64, reference string) (creditdomain.CreditTransaction, error) {
	if userID == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidAmount
	}

	var entry creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureAccountTx(tx, userID); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.Exec(
			`UPDATE credit_accounts SET balance = balance + ?, updated_at = ? WHERE user_id = ?`,
			amount, now, userID,
		).Error; err != nil {
			return err
		}

		entry = creditdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Kind:        creditdomain.TransactionKindPurchase,
			Amount:      amount,
			Reference:   strings.TrimSpace(reference),
			Description: "credit purchase",
			CreatedAt:   now,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return creditdomain.CreditTransaction{}, fmt.Errorf("record purchase: %w", err)
	}

	s.audit(ctx, userID, "credit.purchase", entry)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditMovement(ctx, string(creditdomain.TransactionKindPurchase))
	}
	return entry, nil
}

// Reserve performs the atomic check-and-decrement that guards against
// concurrent overdraw: the UPDATE only matches when balance >= amount,
// so two racing reservations can never both succeed past the balance.
func (s *Service) Reserve(ctx context.Context, userID, reportID snowflake.ID, amount int64, description string) (creditdomain.CreditTransaction, error) {
	if userID == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidUser
	}
	if reportID == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidReport
	}
	if amount <= 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidAmount
	}

	var entry creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		result := tx.Exec(
			`UPDATE credit_accounts SET balance = balance - ?, updated_at = ?
			 WHERE user_id = ? AND balance >= ?`,
			amount, now, userID, amount,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&creditdomain.CreditAccount{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return creditdomain.ErrAccountNotFound
			}
			return creditdomain.ErrInsufficientCredits
		}

		entry = creditdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Kind:        creditdomain.TransactionKindUsage,
			Amount:      amount,
			ReportID:    &reportID,
			Description: strings.TrimSpace(description),
			CreatedAt:   now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			// A second usage row for the same report trips the
			// (report_id, kind) unique index; the rollback also undoes
			// the balance decrement.
			if db.IsDuplicateKeyErr(err) {
				return creditdomain.ErrInvalidReport
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, creditdomain.ErrInsufficientCredits) ||
			errors.Is(err, creditdomain.ErrAccountNotFound) ||
			errors.Is(err, creditdomain.ErrInvalidReport) {
			return creditdomain.CreditTransaction{}, err
		}
		return creditdomain.CreditTransaction{}, fmt.Errorf("reserve credits: %w", err)
	}

	s.audit(ctx, userID, "credit.reserve", entry)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditMovement(ctx, string(creditdomain.TransactionKindUsage))
	}
	return entry, nil
}

// Refund is idempotent per report: the unique (report_id, kind) index
// plus ON CONFLICT DO NOTHING means a racing or repeated refund returns
// the already-recorded transaction and leaves the balance alone.
func (s *Service) Refund(ctx context.Context, userID, reportID snowflake.ID, amount int64, reason string) (creditdomain.CreditTransaction, error) {
	if userID == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidUser
	}
	if reportID == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidReport
	}
	if amount <= 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidAmount
	}

	var entry creditdomain.CreditTransaction
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		entryID := s.genID.Generate()
		result := tx.Exec(
			`INSERT INTO credit_transactions (id, user_id, kind, amount, report_id, reference, description, created_at)
			 VALUES (?, ?, ?, ?, ?, '', ?, ?)
			 ON CONFLICT (report_id, kind) DO NOTHING`,
			entryID, userID, string(creditdomain.TransactionKindRefund), amount, reportID,
			strings.TrimSpace(reason), now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Where("report_id = ? AND kind = ?", reportID, creditdomain.TransactionKindRefund).
				First(&entry).Error
		}
		inserted = true

		if err := tx.Exec(
			`UPDATE credit_accounts SET balance = balance + ?, updated_at = ? WHERE user_id = ?`,
			amount, now, userID,
		).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", entryID).First(&entry).Error
	})
	if err != nil {
		return creditdomain.CreditTransaction{}, fmt.Errorf("refund credits: %w", err)
	}

	if inserted {
		s.audit(ctx, userID, "credit.refund", entry)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCreditMovement(ctx, string(creditdomain.TransactionKindRefund))
		}
	}
	return entry, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, creditdomain.ErrInvalidUser
	}

	var account creditdomain.CreditAccount
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, creditdomain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load credit account: %w", err)
	}
	return account.Balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, req creditdomain.ListTransactionsRequest) (creditdomain.ListTransactionsResponse, error) {
	if req.UserID == 0 {
		return creditdomain.ListTransactionsResponse{}, creditdomain.ErrInvalidUser
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("id DESC").
		Limit(limit + 1)

	if req.Kind != "" {
		query = query.Where("kind = ?", req.Kind)
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return creditdomain.ListTransactionsResponse{}, creditdomain.ErrInvalidPageToken
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return creditdomain.ListTransactionsResponse{}, creditdomain.ErrInvalidPageToken
		}
		query = query.Where("id < ?", lastID)
	}

	var rows []*creditdomain.CreditTransaction
	if err := query.Find(&rows).Error; err != nil {
		return creditdomain.ListTransactionsResponse{}, fmt.Errorf("list credit transactions: %w", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(limit), func(tx *creditdomain.CreditTransaction) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: tx.ID.String()})
		return token
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]creditdomain.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return creditdomain.ListTransactionsResponse{
		PageInfo:     *pageInfo,
		Transactions: out,
	}, nil
}

func (s *Service) ensureAccountTx(tx *gorm.DB, userID snowflake.ID) (creditdomain.CreditAccount, error) {
	now := s.clock.Now()
	if err := tx.Exec(
		`INSERT INTO credit_accounts (id, user_id, balance, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		s.genID.Generate(), userID, now, now,
	).Error; err != nil {
		return creditdomain.CreditAccount{}, err
	}
	var account creditdomain.CreditAccount
	if err := tx.Where("user_id = ?", userID).First(&account).Error; err != nil {
		return creditdomain.CreditAccount{}, err
	}
	return account, nil
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action string, entry creditdomain.CreditTransaction) {
	if s.auditSvc == nil {
		return
	}
	targetID := entry.ID.String()
	metadata := map[string]any{
		"kind":   string(entry.Kind),
		"amount": entry.Amount,
	}
	if entry.ReportID != nil {
		metadata["report_id"] = entry.ReportID.String()
	}
	if err := s.auditSvc.AuditLog(ctx, userID, action, "credit_transaction", &targetID, metadata); err != nil {
		s.log.Warn("failed to write credit audit log", zap.Error(err))
	}
}
