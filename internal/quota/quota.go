// Package quota rations the upstream API budget across polling cycles
// and picks which channels to poll in each one.
package quota

import (
	"sort"
	"time"

	"yt_monitor/internal/model"
)

const secondsPerDay = 86400

// Plan computes how many channels may be polled in a single cycle so
// that a full day of cycles stays within the daily quota budget.
// A result of 0 is valid and means this cycle polls nothing.
func Plan(dailyBudget, costPerPoll, intervalSeconds int) int {
	if dailyBudget <= 0 || costPerPoll <= 0 || intervalSeconds <= 0 {
		return 0
	}
	cyclesPerDay := float64(secondsPerDay) / float64(intervalSeconds)
	return int(float64(dailyBudget) / (cyclesPerDay * float64(costPerPoll)))
}

// SelectChannels returns up to limit active channels, least recently
// checked first. Channels that have never been checked sort ahead of
// everything else; ties keep their input order.
func SelectChannels(channels []model.Channel, limit int) []model.Channel {
	if limit <= 0 {
		return nil
	}

	eligible := make([]model.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Active {
			eligible = append(eligible, ch)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return lastChecked(eligible[i]).Before(lastChecked(eligible[j]))
	})

	if limit < len(eligible) {
		eligible = eligible[:limit]
	}
	return eligible
}

// lastChecked treats a never-checked channel as the zero time so it
// always sorts first.
func lastChecked(ch model.Channel) time.Time {
	if ch.LastCheckedAt == nil {
		return time.Time{}
	}
	return *ch.LastCheckedAt
}
