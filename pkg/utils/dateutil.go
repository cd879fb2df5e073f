package utils

import (
	"time"

	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/gorhill/cronexpr"
)

// ValidateCron returns an error when cronString is not a valid cron
// expression.
func ValidateCron(cronString string) error {
	_, err := cronexpr.Parse(cronString)
	return err
}

// NextCronDuration returns the time remaining on clock until the first
// activation of the cron expression after the given time. A zero or
// negative duration means the activation is already due.
func NextCronDuration(cronString string, after time.Time, clock ext.Clock) (time.Duration, error) {
	expr, err := cronexpr.Parse(cronString)
	if err != nil {
		return time.Duration(0), err
	}
	return timeToExpiration(expr.Next(after), clock), nil
}

// DurationExceeded checks whether the duration has elapsed.
func DurationExceeded(duration time.Duration) bool {
	return duration.Nanoseconds() <= 0
}

// timeToExpiration returns the duration between now and the expiration time.
func timeToExpiration(expiresAt time.Time, clock ext.Clock) time.Duration {
	return expiresAt.Sub(clock.Now())
}
