package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wasched/internal/config"
	"wasched/internal/datetime"
	"wasched/internal/dispatch"
	"wasched/internal/messaging"
	"wasched/internal/messaging/gateway"
	"wasched/internal/observability/httpserver"
	"wasched/internal/receipts"
	"wasched/internal/wizard"
	logx "wasched/pkg/logx"
)

const defaultBackendTimeout = 20 * time.Second

// settings is the resolved, hot-reloadable part of the config.
type settings struct {
	Location     *time.Location
	MinLead      time.Duration
	SessionTTL   time.Duration
	MaxChoices   int
	SendTimeout  time.Duration
	SendRate     float64
	DispatchOn   bool
	DispatchSpec string
}

func mapSettings(cfg *config.Config) (settings, error) {
	var s settings
	loc, err := datetime.LoadLocation(strings.TrimSpace(cfg.Scheduler.Timezone))
	if err != nil {
		return s, fmt.Errorf("scheduler.timezone: %w", err)
	}
	s.Location = loc

	if s.MinLead, err = config.ParseDurationOrDefault("scheduler.min_lead_time", cfg.Scheduler.MinLeadTime, datetime.DefaultMinLead); err != nil {
		return s, err
	}
	if s.SendTimeout, err = config.ParseDurationOrDefault("scheduler.send_timeout", cfg.Scheduler.SendTimeout, dispatch.DefaultSendTimeout); err != nil {
		return s, err
	}
	if s.SessionTTL, err = config.ParseDurationOrDefault("wizard.session_ttl", cfg.Wizard.SessionTTL, wizard.DefaultSessionTTL); err != nil {
		return s, err
	}
	if cfg.Scheduler.SendRatePerSec < 0 {
		return s, fmt.Errorf("scheduler.send_rate_per_sec must be >= 0")
	}
	if cfg.Wizard.MaxChoices < 0 {
		return s, fmt.Errorf("wizard.max_choices must be >= 0")
	}
	s.SendRate = float64(cfg.Scheduler.SendRatePerSec)
	s.MaxChoices = cfg.Wizard.MaxChoices

	s.DispatchOn = cfg.DispatchEnabled()
	s.DispatchSpec = strings.TrimSpace(cfg.Scheduler.DispatchSpec)
	if s.DispatchSpec == "" {
		s.DispatchSpec = dispatch.DefaultSpec
	}
	if err := dispatch.ValidateSpec(s.DispatchSpec); err != nil {
		return s, fmt.Errorf("scheduler.dispatch_spec: %w", err)
	}
	return s, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log; ok is false when unset or invalid.
func groupLogChat(cfg *config.Config) (int64, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	m := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", m.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", m.IdleTimeout, time.Minute)
	if err != nil {
		return httpserver.Config{}, err
	}
	addr := strings.TrimSpace(m.Addr)
	if addr == "" {
		addr = httpserver.DefaultAddr
	}
	return httpserver.Config{
		Enabled:       m.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

// backendTimeout is the per-call budget applied around the backend.
func backendTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("messaging.timeout", cfg.Messaging.Timeout, defaultBackendTimeout)
}

func checkMessaging(cfg *config.Config) error {
	m := cfg.Messaging
	if _, err := backendTimeout(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("messaging.directory_ttl", m.DirectoryTTL); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(m.Driver)) {
	case "", "gateway":
		if strings.TrimSpace(m.BaseURL) == "" {
			return errors.New("messaging.base_url (or WA_GATEWAY_URL) is required when messaging.driver=gateway")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown messaging.driver: %s", m.Driver)
	}
	return nil
}

func openBackend(cfg *config.Config, log logx.Logger) (messaging.Backend, error) {
	if err := checkMessaging(cfg); err != nil {
		return nil, err
	}
	m := cfg.Messaging
	timeout, _ := backendTimeout(cfg)

	var b messaging.Backend
	switch strings.ToLower(strings.TrimSpace(m.Driver)) {
	case "memory":
		log.Warn("using in-memory messaging backend; nothing leaves this process")
		b = messaging.NewMemory()
	default:
		ttl, _ := config.ParseDurationField("messaging.directory_ttl", m.DirectoryTTL)
		c, err := gateway.New(gateway.Config{
			BaseURL:      m.BaseURL,
			Token:        m.Token,
			Timeout:      timeout,
			DirectoryTTL: ttl,
		}, log.With(logx.String("comp", "messaging.gateway")))
		if err != nil {
			return nil, err
		}
		b = c
	}
	return messaging.WithTimeout(b, timeout), nil
}

func checkReceipts(cfg *config.Config) error {
	r := cfg.Receipts.Redis
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Addr) == "" {
		return errors.New("receipts.redis.addr (or REDIS_ADDR) is required when receipts.redis.enabled=true")
	}
	_, err := config.ParseDurationField("receipts.redis.ttl", r.TTL)
	return err
}

// openReceipts returns the receipt cache and its closer. A Redis that does
// not answer at boot is logged and used anyway; lookups degrade to misses.
func openReceipts(ctx context.Context, cfg *config.Config, log logx.Logger) (receipts.Cache, func() error, error) {
	if err := checkReceipts(cfg); err != nil {
		return nil, nil, err
	}
	r := cfg.Receipts.Redis
	if !r.Enabled {
		return receipts.Nop{}, func() error { return nil }, nil
	}
	ttl, _ := config.ParseDurationField("receipts.redis.ttl", r.TTL)
	rdb := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(r.Addr),
		Password: r.Password,
		DB:       r.DB,
	})
	cache := receipts.NewRedisCache(rdb, ttl, strings.TrimSpace(r.KeyPrefix))

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cache.Ping(pctx); err != nil {
		log.Warn("receipt cache unreachable at startup", logx.String("addr", r.Addr), logx.Err(err))
	} else {
		log.Info("receipt cache enabled", logx.String("addr", r.Addr), logx.Int("db", r.DB))
	}
	return cache, cache.Close, nil
}

// validate rejects a config before it is committed, at boot and on reload.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token (or TELEGRAM_BOT_TOKEN) is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapSettings(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if err := checkMessaging(cfg); err != nil {
		return err
	}
	if err := checkReceipts(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
