// Package notify delivers operational alerts to store staff.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
)

type Notifier interface {
	NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error
	NotifyDailySummary(ctx context.Context, summary domain.DailySummary) error
}

// LogNotifier writes alerts to the log. Used when SMS is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(l *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.OrNop(l)}
}

func (n *LogNotifier) NotifyLowStock(_ context.Context, alert domain.LowStockAlert) error {
	n.logger.Warn("low stock",
		zap.String("store_id", alert.StoreID),
		zap.String("sku", alert.SKU),
		zap.Int("on_hand", alert.OnHand),
		zap.Int("reorder_level", alert.ReorderLevel),
	)
	return nil
}

func (n *LogNotifier) NotifyDailySummary(_ context.Context, summary domain.DailySummary) error {
	n.logger.Info("daily summary",
		zap.String("store_id", summary.StoreID),
		zap.String("date", summary.Date),
		zap.Int64("completed_sales", summary.CompletedSales),
		zap.Int64("gross_sales_cents", summary.GrossSalesCents),
		zap.Int64("cash_cents", summary.CashCents),
		zap.Int64("mpesa_cents", summary.MpesaCents),
		zap.Int("low_stock_count", summary.LowStockCount),
	)
	return nil
}

// messageSender is the part of the Twilio API this package uses.
type messageSender interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSNotifier texts alerts to one staff phone through Twilio.
type SMSNotifier struct {
	sender messageSender
	from   string
	to     string
	logger *zap.Logger
}

func NewTwilio(cfg config.TwilioConfig, l *zap.Logger) (*SMSNotifier, error) {
	if !cfg.Enabled() {
		return nil, errors.New("twilio: account sid, auth token, from number and alert phone are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newSMSNotifier(client.Api, cfg.FromNumber, cfg.AlertPhone, l), nil
}

func newSMSNotifier(sender messageSender, from string, to string, l *zap.Logger) *SMSNotifier {
	return &SMSNotifier{sender: sender, from: from, to: to, logger: logger.OrNop(l)}
}

func (n *SMSNotifier) NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error {
	return n.send(ctx, LowStockMessage(alert))
}

func (n *SMSNotifier) NotifyDailySummary(ctx context.Context, summary domain.DailySummary) error {
	return n.send(ctx, DailySummaryMessage(summary))
}

func (n *SMSNotifier) send(ctx context.Context, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(body)

	resp, err := n.sender.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		n.logger.Debug("sms sent", zap.String("sid", *resp.Sid))
	}
	return nil
}

func LowStockMessage(alert domain.LowStockAlert) string {
	return fmt.Sprintf("Low stock at %s: %s has %d left (reorder at %d).",
		alert.StoreID, alert.SKU, alert.OnHand, alert.ReorderLevel)
}

func DailySummaryMessage(s domain.DailySummary) string {
	return fmt.Sprintf("%s %s: %d sales, gross KES %s (cash %s, M-Pesa %s), refunds %s, %d cancelled, %d items low on stock.",
		s.StoreID, s.Date, s.CompletedSales,
		money(s.GrossSalesCents), money(s.CashCents), money(s.MpesaCents), money(s.RefundedCents),
		s.CancelledSales, s.LowStockCount)
}

func money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
