package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/cache"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/loyalty"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/mpesa"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/notify"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/receiving"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/returns"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/settlement"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

// ErrForbidden means the actor's role may not perform the operation.
var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates the engines over one repository.
type Service struct {
	repo       store.Repository
	ledger     *ledger.Ledger
	settlement *settlement.Engine
	gateway    *mpesa.Gateway
	receiving  *receiving.Processor
	returns    *returns.Processor
	loyalty    *loyalty.Engine
	notifier   notify.Notifier

	defaults       config.Settings
	defaultStoreID string
	loc            *time.Location
	logger         *zap.Logger
	now            func() time.Time
}

type options struct {
	logger         *zap.Logger
	notifier       notify.Notifier
	idempotency    cache.IdempotencyStore
	callbackToken  string
	defaults       *config.Settings
	defaultStoreID string
	loc            *time.Location
	now            func() time.Time
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotifier routes low-stock alerts and daily summaries.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithIdempotencyStore de-duplicates mobile-money callbacks.
func WithIdempotencyStore(s cache.IdempotencyStore) Option {
	return func(o *options) { o.idempotency = s }
}

func WithCallbackToken(token string) Option {
	return func(o *options) { o.callbackToken = token }
}

// WithDefaults sets the business settings that store overrides apply on top of.
func WithDefaults(s config.Settings) Option {
	return func(o *options) { o.defaults = &s }
}

func WithDefaultStoreID(id string) Option {
	return func(o *options) { o.defaultStoreID = id }
}

// WithLocation sets the zone that report days are cut in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(repo store.Repository, provider mpesa.Provider, opts ...Option) *Service {
	o := options{
		defaultStoreID: "main-store",
		loc:            time.UTC,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrNop(o.logger)
	if o.notifier == nil {
		o.notifier = notify.NewLogNotifier(log)
	}
	defaults := config.DefaultSettings()
	if o.defaults != nil {
		defaults = *o.defaults
	}
	if o.defaultStoreID == "" {
		o.defaultStoreID = "main-store"
	}

	l := ledger.New(repo,
		ledger.WithAlertSink(o.notifier),
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithClock(o.now),
	)
	gateway := mpesa.NewGateway(l, repo, provider,
		mpesa.WithIdempotencyStore(o.idempotency),
		mpesa.WithCallbackToken(o.callbackToken),
		mpesa.WithLogger(log.Named("mpesa")),
		mpesa.WithClock(o.now),
	)
	engine := settlement.New(l, repo, gateway, settlement.NewHub(), log.Named("settlement"))
	gateway.OnResult(engine.ApplyMobileResult)

	return &Service{
		repo:           repo,
		ledger:         l,
		settlement:     engine,
		gateway:        gateway,
		receiving:      receiving.New(repo, l, log.Named("receiving")),
		returns:        returns.New(repo, l, log.Named("returns")),
		loyalty:        loyalty.New(repo),
		notifier:       o.notifier,
		defaults:       defaults,
		defaultStoreID: o.defaultStoreID,
		loc:            o.loc,
		logger:         log,
		now:            o.now,
	}
}

// Settings returns the business snapshot for one operation: configured
// defaults overlaid with the store's settings table.
func (s *Service) Settings(ctx context.Context) (config.Settings, error) {
	values, err := s.repo.GetSettings(ctx)
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s.defaults.WithOverrides(values)
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (map[string]string, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if len(req.Values) == 0 {
		return nil, fmt.Errorf("%w: no settings given", store.ErrInvalidTransaction)
	}

	current, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(current)+len(req.Values))
	for k, v := range current {
		merged[k] = v
	}
	keys := make([]string, 0, len(req.Values))
	for k, v := range req.Values {
		k = strings.ToLower(strings.TrimSpace(k))
		merged[k] = strings.TrimSpace(v)
		keys = append(keys, k)
	}
	snapshot, err := s.defaults.WithOverrides(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	if err := s.repo.PutSettings(ctx, merged); err != nil {
		return nil, err
	}

	s.logAudit(ctx, s.defaultStoreID, "settings_update", "settings", "global", "keys="+strings.Join(keys, ","))
	return snapshot.Values(), nil
}

func (s *Service) GetSettings(ctx context.Context) (map[string]string, error) {
	snapshot, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Values(), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	storeID = defaultString(storeID, s.defaultStoreID)
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		day, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		from = day
	}
	return s.repo.ListAuditLogs(ctx, storeID, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	storeID = defaultString(storeID, s.defaultStoreID)
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("write audit log failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// parseDay reads a YYYY-MM-DD date as midnight in the report zone.
func (s *Service) parseDay(date string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return day, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
