package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wasched/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// and returns log fields safe to print. Tokens, passwords and DSNs are only
// ever reported as "set"/"unset".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		trim(ot.GroupLog) != trim(nt.GroupLog) ||
		isSet(ot.Token) != isSet(nt.Token) {
		mark("telegram",
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", isSet(nt.GroupLog)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		nl := newCfg.Logging
		mark("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		mark("bot",
			logx.Bool("bot.owner_contact_set", isSet(newCfg.Bot.OwnerContactURL)),
			logx.Int("bot.allowed_count", len(newCfg.Bot.AllowedUserIDs)),
		)
	}

	if oldCfg.DispatchEnabled() != newCfg.DispatchEnabled() ||
		!reflect.DeepEqual(withoutEnabled(oldCfg.Scheduler), withoutEnabled(newCfg.Scheduler)) {
		ns := newCfg.Scheduler
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.DispatchEnabled()),
			logx.String("scheduler.timezone", trim(ns.Timezone)),
			logx.String("scheduler.dispatch_spec", trim(ns.DispatchSpec)),
			logx.String("scheduler.send_timeout", trim(ns.SendTimeout)),
			logx.String("scheduler.min_lead_time", trim(ns.MinLeadTime)),
			logx.Int("scheduler.send_rate_per_sec", ns.SendRatePerSec),
		)
	}

	if oldCfg.Wizard != newCfg.Wizard {
		mark("wizard",
			logx.String("wizard.session_ttl", trim(newCfg.Wizard.SessionTTL)),
			logx.Int("wizard.max_choices", newCfg.Wizard.MaxChoices),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if trim(ost.Driver) != trim(nst.Driver) || trim(ost.Path) != trim(nst.Path) ||
		trim(ost.BusyTimeout) != trim(nst.BusyTimeout) || trim(ost.DSN) != trim(nst.DSN) {
		mark("storage",
			logx.String("storage.driver", trim(nst.Driver)),
			logx.Bool("storage.path_set", isSet(nst.Path)),
			logx.Bool("storage.dsn_set", isSet(nst.DSN)),
		)
	}

	om, nm := oldCfg.Messaging, newCfg.Messaging
	if trim(om.Driver) != trim(nm.Driver) || trim(om.BaseURL) != trim(nm.BaseURL) ||
		trim(om.Timeout) != trim(nm.Timeout) || trim(om.DirectoryTTL) != trim(nm.DirectoryTTL) ||
		trim(om.Token) != trim(nm.Token) {
		mark("messaging",
			logx.String("messaging.driver", trim(nm.Driver)),
			logx.String("messaging.base_url", trim(nm.BaseURL)),
			logx.Bool("messaging.token_set", isSet(nm.Token)),
		)
	}

	if oldCfg.Receipts != newCfg.Receipts {
		nr := newCfg.Receipts.Redis
		mark("receipts",
			logx.Bool("receipts.redis.enabled", nr.Enabled),
			logx.String("receipts.redis.addr", trim(nr.Addr)),
			logx.Int("receipts.redis.db", nr.DB),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		nx := newCfg.Metrics
		mark("metrics",
			logx.Bool("metrics.enabled", nx.Enabled),
			logx.String("metrics.addr", trim(nx.Addr)),
			logx.Bool("metrics.pprof", nx.Pprof),
			logx.Bool("metrics.token_set", isSet(nx.Token)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the changed sections that only take effect
// after a process restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "messaging", "receipts":
			out = append(out, s)
		}
	}
	return out
}

func withoutEnabled(s SchedulerConfig) SchedulerConfig {
	s.Enabled = nil
	return s
}

func trim(s string) string { return strings.TrimSpace(s) }

func isSet(s string) bool { return strings.TrimSpace(s) != "" }
