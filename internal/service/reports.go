package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

// DailySummary totals the store's trading day. An empty date means today in
// the report zone.
func (s *Service) DailySummary(ctx context.Context, storeID string, date string) (domain.DailySummary, error) {
	day := startOfDay(s.now().In(s.loc))
	if strings.TrimSpace(date) != "" {
		parsed, err := s.parseDay(date)
		if err != nil {
			return domain.DailySummary{}, err
		}
		day = parsed
	}
	return s.summaryFor(ctx, defaultString(storeID, s.defaultStoreID), day)
}

// SendDailySummary pushes the summary of the day containing day to the
// notification service.
func (s *Service) SendDailySummary(ctx context.Context, day time.Time) error {
	summary, err := s.summaryFor(ctx, s.defaultStoreID, startOfDay(day.In(s.loc)))
	if err != nil {
		return err
	}
	if err := s.notifier.NotifyDailySummary(ctx, summary); err != nil {
		return err
	}
	s.logger.Info("daily summary sent",
		zap.String("store_id", summary.StoreID),
		zap.String("date", summary.Date),
		zap.Int64("completed_sales", summary.CompletedSales),
	)
	return nil
}

func (s *Service) summaryFor(ctx context.Context, storeID string, day time.Time) (domain.DailySummary, error) {
	summary, err := s.repo.DailySummary(ctx, storeID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return domain.DailySummary{}, err
	}
	summary.StoreID = storeID
	summary.Date = day.Format("2006-01-02")
	return summary, nil
}
