package notify

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

type fakeSender struct {
	sent []*twilioApi.CreateMessageParams
	err  error
}

func (f *fakeSender) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestSMSNotifierSendsLowStock(t *testing.T) {
	sender := &fakeSender{}
	n := newSMSNotifier(sender, "+15005550006", "+254712345678", nil)

	err := n.NotifyLowStock(context.Background(), domain.LowStockAlert{StoreID: "main-store", SKU: "SKU-CHAI-100", OnHand: 8, ReorderLevel: 10})
	if err != nil {
		t.Fatalf("notify low stock: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if *msg.To != "+254712345678" || *msg.From != "+15005550006" {
		t.Fatalf("unexpected routing to=%s from=%s", *msg.To, *msg.From)
	}
	want := "Low stock at main-store: SKU-CHAI-100 has 8 left (reorder at 10)."
	if *msg.Body != want {
		t.Fatalf("expected %q, got %q", want, *msg.Body)
	}
}

func TestSMSNotifierSurfacesErrors(t *testing.T) {
	n := newSMSNotifier(&fakeSender{err: errors.New("21211 invalid To")}, "+1", "+2", nil)
	if err := n.NotifyDailySummary(context.Background(), domain.DailySummary{}); err == nil {
		t.Fatal("expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newSMSNotifier(&fakeSender{}, "+1", "+2", nil).NotifyLowStock(ctx, domain.LowStockAlert{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestDailySummaryMessage(t *testing.T) {
	got := DailySummaryMessage(domain.DailySummary{
		StoreID:         "main-store",
		Date:            "2026-05-04",
		CompletedSales:  42,
		CancelledSales:  1,
		GrossSalesCents: 1234550,
		CashCents:       400000,
		MpesaCents:      834550,
		RefundedCents:   6500,
		LowStockCount:   3,
	})
	want := "main-store 2026-05-04: 42 sales, gross KES 12345.50 (cash 4000.00, M-Pesa 8345.50), refunds 65.00, 1 cancelled, 3 items low on stock."
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewTwilioRequiresConfig(t *testing.T) {
	if _, err := NewTwilio(config.TwilioConfig{AccountSID: "AC1"}, nil); err == nil {
		t.Fatal("expected error for incomplete config")
	}
	n, err := NewTwilio(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+1", AlertPhone: "+2"}, nil)
	if err != nil || n == nil {
		t.Fatalf("expected notifier, got %v", err)
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.NotifyLowStock(context.Background(), domain.LowStockAlert{}); err != nil {
		t.Fatal(err)
	}
	if err := n.NotifyDailySummary(context.Background(), domain.DailySummary{}); err != nil {
		t.Fatal(err)
	}
}
