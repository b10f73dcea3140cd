package config

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ScheduleParser accepts standard cron specs with an optional seconds field
// and descriptors such as "@every 1m".
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a resync schedule. An empty spec disables the resync
// and yields a nil schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, nil
	}
	sched, err := ScheduleParser.Parse(spec)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid resync schedule %q", spec)
	}
	return sched, nil
}
