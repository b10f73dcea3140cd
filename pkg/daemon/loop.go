package daemon

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/events"
	"github.com/charlie0129/freqclamp/pkg/limiter"
	"github.com/charlie0129/freqclamp/pkg/policy"
)

// countSkipped runs ahead of the limiter in the notifier chain and counts
// the adjust events it is going to ignore.
func (s *server) countSkipped(kind policy.EventKind, _ *policy.Policy) {
	if kind != policy.Adjust {
		return
	}
	if !s.lim.Snapshot().Enabled {
		s.metrics.ObserveSkipped()
	}
}

func (s *server) onDecision(d limiter.Decision) {
	s.metrics.ObserveDecision(d)

	entry := logrus.WithFields(logrus.Fields{
		"cpu":       d.In.CPU,
		"suspended": d.Suspended,
		"in":        d.In.String(),
		"out":       d.Out.String(),
	})
	if d.Repaired {
		entry.Warn("screen-off minimum above maximum, raised maximum")
	} else {
		entry.Debug("policy adjusted")
	}

	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(s.ctx, d); err != nil {
		logrus.WithError(err).Error("failed to record decision")
	}
}

func (s *server) onApplied(a cpufreq.Applied) {
	s.metrics.ObserveApplied(a)
	if !a.Changed {
		return
	}
	logrus.WithFields(logrus.Fields{
		"requested": a.Requested.String(),
		"applied":   a.Applied.String(),
	}).Info("cpufreq limits applied")
	s.hub.Publish(events.PolicyApplied, events.PolicyAppliedEvent{
		CPU:          a.Applied.CPU,
		RequestedMin: uint32(a.Requested.Min),
		RequestedMax: uint32(a.Requested.Max),
		AppliedMin:   uint32(a.Applied.Min),
		AppliedMax:   uint32(a.Applied.Max),
		Changed:      a.Changed,
		Ts:           time.Now().Unix(),
	})
}

func (s *server) onDisplayChange(suspended bool) {
	logrus.WithField("suspended", suspended).Info("display state changed")
	s.metrics.ObserveDisplay(suspended)
	s.hub.Publish(events.DisplayChanged, events.DisplayChangedEvent{
		Suspended: suspended,
		Ts:        time.Now().Unix(),
	})
	s.resync("display")
}

// resync re-runs the notifier chain on every CPU.
func (s *server) resync(reason string) {
	if err := s.gov.UpdateAll(s.ctx); err != nil && s.ctx.Err() == nil {
		logrus.WithError(err).WithField("reason", reason).Error("failed to resync cpufreq policies")
	}
}

// applyConfig pushes the configured values into the limiter and resyncs.
func (s *server) applyConfig() {
	s.lim.SetEnabled(s.conf.Enabled())
	if v := s.conf.ScreenoffMin(); v != 0 {
		s.lim.SetScreenoffMin(v)
	}
	if v := s.conf.ScreenoffMax(); v != 0 {
		s.lim.SetScreenoffMax(v)
	}
	s.hub.Publish(events.ConfigChanged, events.ConfigChangedEvent{
		Command: "reload",
		Ts:      time.Now().Unix(),
	})
	s.resync("config")
}

// startResync runs a periodic resync on the configured cron schedule, so
// limits changed behind our back are picked up without a display edge. The
// journal is pruned on the same schedule.
func (s *server) startResync() (stop func()) {
	if s.schedule == nil {
		return func() {}
	}

	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.resync("schedule")
		if s.journal == nil {
			return
		}
		n, err := s.journal.Prune(s.ctx, journalKeep)
		if err != nil {
			logrus.WithError(err).Error("failed to prune journal")
			return
		}
		if n > 0 {
			logrus.WithField("removed", n).Debug("journal pruned")
		}
	}))
	c.Start()
	logrus.WithField("schedule", s.conf.ResyncSchedule()).Info("periodic resync scheduled")

	return func() {
		ctx := c.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
}
