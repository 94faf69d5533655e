package inference

import "time"

// PollStep switches to Interval once the elapsed polling time reaches After.
type PollStep struct {
	After    time.Duration
	Interval time.Duration
}

// PollSchedule controls how often a job is polled and for how long.
type PollSchedule struct {
	Steps  []PollStep
	Budget time.Duration
}

// DefaultPollSchedule polls every 3s, slowing to 4s after a minute and 5s after three.
func DefaultPollSchedule(budget time.Duration) PollSchedule {
	return PollSchedule{
		Steps: []PollStep{
			{After: 0, Interval: 3 * time.Second},
			{After: 60 * time.Second, Interval: 4 * time.Second},
			{After: 180 * time.Second, Interval: 5 * time.Second},
		},
		Budget: budget,
	}
}

// Interval returns the wait before the next poll given the time spent so far.
func (s PollSchedule) Interval(elapsed time.Duration) time.Duration {
	if len(s.Steps) == 0 {
		return time.Second
	}
	interval := s.Steps[0].Interval
	for _, step := range s.Steps {
		if elapsed >= step.After {
			interval = step.Interval
		}
	}
	return interval
}
