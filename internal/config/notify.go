package config

// NotifyConfig holds ntfy settings for refresh alerts. Besides the GEXBOT_
// prefix, the conventional NTFY_* variables are honored.
type NotifyConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Server         string `mapstructure:"server"`
	Topic          string `mapstructure:"topic"`
	Priority       string `mapstructure:"priority"`
	Tags           string `mapstructure:"tags"`
	Token          string `mapstructure:"token"`
	NotifyRecovery bool   `mapstructure:"notify_recovery"`
}

var validPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}

func (n *NotifyConfig) validate(errs *ValidationErrors) {
	if !n.Enabled {
		return
	}
	if n.Topic == "" {
		errs.add("notify.topic", "is required when notifications are enabled (set NTFY_TOPIC)")
	}
	if !validPriorities[n.Priority] {
		errs.add("notify.priority", "must be one of min, low, default, high, urgent")
	}
}
