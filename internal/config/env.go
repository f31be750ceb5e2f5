package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables that override file values. Secrets usually live
// here (or in .env) rather than in the config file.
const (
	EnvTelegramToken   = "TELEGRAM_BOT_TOKEN"
	EnvGatewayURL      = "WA_GATEWAY_URL"
	EnvGatewayToken    = "WA_GATEWAY_TOKEN"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvRedisPassword   = "REDIS_PASSWORD"
	EnvOwnerContactURL = "OWNER_WHATSAPP_LINK"
	EnvOwnerUserIDs    = "TELEGRAM_OWNER_IDS"
)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvOwnerUserIDs); ok {
		if ids := parseIDList(v); len(ids) > 0 {
			cfg.Telegram.OwnerUserIDs = ids
		}
	}
	if v, ok := get(EnvGatewayURL); ok {
		cfg.Messaging.BaseURL = v
	}
	if v, ok := get(EnvGatewayToken); ok {
		cfg.Messaging.Token = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		cfg.Storage.DSN = v
	}
	if v, ok := get(EnvRedisAddr); ok {
		cfg.Receipts.Redis.Addr = v
	}
	if v, ok := get(EnvRedisPassword); ok {
		cfg.Receipts.Redis.Password = v
	}
	if v, ok := get(EnvOwnerContactURL); ok {
		cfg.Bot.OwnerContactURL = v
	}
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err == nil && id != 0 {
			out = append(out, id)
		}
	}
	return out
}
