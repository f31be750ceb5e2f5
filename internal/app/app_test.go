package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"wasched/internal/config"
	"wasched/internal/datetime"
	"wasched/internal/dispatch"
	"wasched/internal/messaging"
	"wasched/internal/receipts"
	"wasched/internal/storage"
	"wasched/internal/wizard"
	logx "wasched/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram:  config.TelegramConfig{Token: "123:abc"},
		Messaging: config.MessagingConfig{Driver: "memory"},
	}
}

func TestMapSettingsDefaults(t *testing.T) {
	t.Parallel()

	s, err := mapSettings(baseConfig())
	if err != nil {
		t.Fatalf("mapSettings: %v", err)
	}
	if s.MinLead != datetime.DefaultMinLead {
		t.Fatalf("min lead=%v", s.MinLead)
	}
	if s.SendTimeout != dispatch.DefaultSendTimeout {
		t.Fatalf("send timeout=%v", s.SendTimeout)
	}
	if s.SessionTTL != wizard.DefaultSessionTTL {
		t.Fatalf("session ttl=%v", s.SessionTTL)
	}
	if !s.DispatchOn || s.DispatchSpec != dispatch.DefaultSpec {
		t.Fatalf("dispatch on=%v spec=%q", s.DispatchOn, s.DispatchSpec)
	}
	if s.Location == nil {
		t.Fatalf("location not resolved")
	}
}

func TestMapSettingsOverrides(t *testing.T) {
	t.Parallel()

	off := false
	cfg := baseConfig()
	cfg.Scheduler = config.SchedulerConfig{
		Enabled:        &off,
		Timezone:       "UTC",
		DispatchSpec:   "*/30 * * * * *",
		SendTimeout:    "5s",
		MinLeadTime:    "2m",
		SendRatePerSec: 2,
	}
	cfg.Wizard = config.WizardConfig{SessionTTL: "30m", MaxChoices: 3}

	s, err := mapSettings(cfg)
	if err != nil {
		t.Fatalf("mapSettings: %v", err)
	}
	if s.DispatchOn {
		t.Fatalf("dispatch should be off")
	}
	if s.Location.String() != "UTC" || s.MinLead != 2*time.Minute || s.SendTimeout != 5*time.Second {
		t.Fatalf("got %+v", s)
	}
	if s.SessionTTL != 30*time.Minute || s.MaxChoices != 3 || s.SendRate != 2 {
		t.Fatalf("got %+v", s)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing token", func(c *config.Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad poll timeout", func(c *config.Config) { c.Telegram.PollTimeout = "soon" }, "telegram.poll_timeout"},
		{"bad timezone", func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad spec", func(c *config.Config) { c.Scheduler.DispatchSpec = "every minute" }, "scheduler.dispatch_spec"},
		{"negative rate", func(c *config.Config) { c.Scheduler.SendRatePerSec = -1 }, "send_rate_per_sec"},
		{"sqlite without path", func(c *config.Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown storage", func(c *config.Config) { c.Storage.Driver = "mongo" }, "unknown storage.driver"},
		{"gateway without url", func(c *config.Config) { c.Messaging.Driver = "gateway" }, "messaging.base_url"},
		{"unknown messaging", func(c *config.Config) { c.Messaging.Driver = "sms" }, "unknown messaging.driver"},
		{"redis without addr", func(c *config.Config) { c.Receipts.Redis.Enabled = true }, "receipts.redis.addr"},
		{"bad metrics timeout", func(c *config.Config) { c.Metrics.ReadTimeout = "x" }, "metrics.read_timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want mention of %q", err, tt.want)
			}
		})
	}

	if err := validate(baseConfig()); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.StorageConfig
		want storage.Config
	}{
		{config.StorageConfig{}, storage.Config{Driver: "file", Path: storage.DefaultFilePath}},
		{config.StorageConfig{Driver: "json", Path: "x.json"}, storage.Config{Driver: "file", Path: "x.json"}},
		{config.StorageConfig{Driver: "SQLite", Path: "db"}, storage.Config{Driver: "sqlite", Path: "db", BusyTimeout: time.Second}},
		{config.StorageConfig{Driver: "sqlite3", Path: "db", BusyTimeout: "3s"}, storage.Config{Driver: "sqlite", Path: "db", BusyTimeout: 3 * time.Second}},
		{config.StorageConfig{Driver: "pgx", DSN: " postgres://u@h/db "}, storage.Config{Driver: "postgres", DSN: "postgres://u@h/db"}},
	}
	for _, tt := range tests {
		cfg := baseConfig()
		cfg.Storage = tt.in
		got, err := mapStorageConfig(cfg)
		if err != nil {
			t.Fatalf("%+v: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%+v: got %+v want %+v", tt.in, got, tt.want)
		}
	}
}

func TestMapHTTPConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Metrics = config.MetricsConfig{Enabled: true, Token: " s3cret ", Pprof: true}
	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		t.Fatalf("mapHTTPConfig: %v", err)
	}
	if hc.Addr != "127.0.0.1:9090" || hc.Token != "s3cret" || !hc.Pprof {
		t.Fatalf("got %+v", hc)
	}
	if hc.ReadTimeout != 10*time.Second || hc.IdleTimeout != time.Minute {
		t.Fatalf("timeouts %v/%v", hc.ReadTimeout, hc.IdleTimeout)
	}
}

func TestGroupLogChat(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if _, ok := groupLogChat(cfg); ok {
		t.Fatalf("unset group_log should not resolve")
	}
	cfg.Telegram.GroupLog = " -100123 "
	if id, ok := groupLogChat(cfg); !ok || id != -100123 {
		t.Fatalf("id=%d ok=%v", id, ok)
	}
	cfg.Telegram.GroupLog = "@channel"
	if _, ok := groupLogChat(cfg); ok {
		t.Fatalf("non-numeric group_log should not resolve")
	}
}

func TestOpenBackendMemory(t *testing.T) {
	t.Parallel()

	b, err := openBackend(baseConfig(), logx.Nop())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if !b.IsReady(context.Background()) {
		t.Fatalf("memory backend should start ready")
	}
	if _, ok := b.(messaging.SessionController); !ok {
		t.Fatalf("timeout wrapper should keep the session controller")
	}
}

func TestOpenReceipts(t *testing.T) {
	t.Parallel()

	c, closeFn, err := openReceipts(context.Background(), baseConfig(), logx.Nop())
	if err != nil {
		t.Fatalf("openReceipts disabled: %v", err)
	}
	if _, ok := c.(receipts.Nop); !ok {
		t.Fatalf("disabled receipts should be Nop, got %T", c)
	}
	_ = closeFn()

	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Receipts.Redis = config.RedisConfig{Enabled: true, Addr: mr.Addr(), TTL: "1h", KeyPrefix: "t:"}
	c, closeFn, err = openReceipts(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("openReceipts redis: %v", err)
	}
	defer closeFn()

	ctx := context.Background()
	if err := c.Record(ctx, "e1", "wamid.1", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !mr.Exists("t:e1") {
		t.Fatalf("receipt not stored under the configured prefix")
	}
	if ttl := mr.TTL("t:e1"); ttl != time.Hour {
		t.Fatalf("ttl=%v", ttl)
	}
}
