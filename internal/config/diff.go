package config

import (
	"reflect"
	"sort"
	"strings"

	logx "quotecast/pkg/logx"
)

// SummarizeChange compares two configs section by section. It returns the
// changed sections, those among them that only take effect after a restart,
// and safe log fields (secrets are never included).
func SummarizeChange(oldCfg, newCfg *Config) (changed, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
			logx.Bool("telegram.webhook", strings.TrimSpace(newCfg.Telegram.WebhookURL) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		restart = append(restart, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.timezone", newCfg.Broadcast.Timezone),
			logx.Bool("broadcast.admin_set", newCfg.Broadcast.AdminID != ""),
		)
	}
	if oldCfg.Quotes != newCfg.Quotes {
		changed = append(changed, "quotes")
		restart = append(restart, "quotes")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	sort.Strings(changed)
	sort.Strings(restart)
	return changed, restart, attrs
}
