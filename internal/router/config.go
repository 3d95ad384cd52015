package router

// Config holds the retry/timeout/backoff knobs spec.md §6 lists as
// configuration. Every field has a default matching the source
// router's own defaults.
type Config struct {
	AckTimeoutMS              int64
	RetryBackoffMS            []int64
	MaxRetries                int
	DefaultTTLMS              int64
	JitterRatio               float64
	RetryPollIntervalMS       int64
	PresenceIntervalMS        int64
	PresenceTimeoutMultiplier int64
}

// DefaultConfig returns the router's built-in defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeoutMS:              120000,
		RetryBackoffMS:            []int64{30000, 120000, 300000, 600000, 600000},
		MaxRetries:                5,
		DefaultTTLMS:              3600000,
		JitterRatio:               0.2,
		RetryPollIntervalMS:       500,
		PresenceIntervalMS:        30000,
		PresenceTimeoutMultiplier: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AckTimeoutMS <= 0 {
		c.AckTimeoutMS = d.AckTimeoutMS
	}
	if len(c.RetryBackoffMS) == 0 {
		c.RetryBackoffMS = d.RetryBackoffMS
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DefaultTTLMS <= 0 {
		c.DefaultTTLMS = d.DefaultTTLMS
	}
	if c.JitterRatio <= 0 {
		c.JitterRatio = d.JitterRatio
	}
	if c.RetryPollIntervalMS <= 0 {
		c.RetryPollIntervalMS = d.RetryPollIntervalMS
	}
	if c.PresenceIntervalMS <= 0 {
		c.PresenceIntervalMS = d.PresenceIntervalMS
	}
	if c.PresenceTimeoutMultiplier <= 0 {
		c.PresenceTimeoutMultiplier = d.PresenceTimeoutMultiplier
	}
	return c
}
