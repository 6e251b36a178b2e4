package alert

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["denied", "breaker_transition", "reinitialize"]
	Headers map[string]string `yaml:"headers" json:"headers"`
	// RatePerMinute caps deliveries to this webhook. Zero means unlimited.
	RatePerMinute int `yaml:"rate_per_minute" json:"rate_per_minute"`
}
