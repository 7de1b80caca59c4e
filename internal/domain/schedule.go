package domain

import "time"

// Schedule describes a recurring report job: when the cron expression
// fires, the scheduler admits a fresh job from the stored parameters.
type Schedule struct {
	ID   int64
	Name string // job definition name

	CronExpression string
	Timezone       string // IANA timezone, defaults to UTC

	Args       []Arg
	Recipients []string
	Enabled    bool

	LastFiredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
