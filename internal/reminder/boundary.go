package reminder

import (
	"time"

	"github.com/robfig/cron/v3"
)

// dailyBoundary fires at 00:00 every day. Without a CRON_TZ prefix the
// schedule follows the location of the time passed to Next.
var dailyBoundary cron.Schedule

func init() {
	sched, err := cron.ParseStandard("0 0 * * *")
	if err != nil {
		panic(err)
	}
	dailyBoundary = sched
}

// NextMidnight returns the first local midnight strictly after now in loc.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return dailyBoundary.Next(now.In(loc))
}
