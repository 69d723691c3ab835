package executor

import (
	"time"

	"github.com/wesleyorama2/cacheload/internal/load/rate"
)

// ratePlan maps elapsed schedule time to a target rate in starts per second.
type ratePlan struct {
	start    float64
	segments []segment
	total    time.Duration
}

type segment struct {
	from, to float64 // starts per second
	start    time.Duration
	duration time.Duration
}

func newRatePlan(cfg *Config) *ratePlan {
	if cfg.Type != TypeRampingArrivalRate {
		r := rate.PerSecond(cfg.Rate, cfg.TimeUnit)
		return &ratePlan{
			start:    r,
			segments: []segment{{from: r, to: r, duration: cfg.Duration}},
			total:    cfg.Duration,
		}
	}

	p := &ratePlan{start: rate.PerSecond(cfg.StartRate, cfg.TimeUnit)}
	prev := p.start
	var offset time.Duration
	for _, s := range cfg.Stages {
		to := rate.PerSecond(s.Target, cfg.TimeUnit)
		p.segments = append(p.segments, segment{from: prev, to: to, start: offset, duration: s.Duration})
		offset += s.Duration
		prev = to
	}
	p.total = offset
	return p
}

// rateAt returns the target rate and the index of the active segment.
func (p *ratePlan) rateAt(elapsed time.Duration) (float64, int) {
	if elapsed <= 0 {
		return p.start, 0
	}
	for i, s := range p.segments {
		if elapsed < s.start+s.duration {
			frac := float64(elapsed-s.start) / float64(s.duration)
			return s.from + (s.to-s.from)*frac, i
		}
	}
	last := len(p.segments) - 1
	return p.segments[last].to, last
}

// expected returns the number of starts the plan implies over its length.
func (p *ratePlan) expected() float64 {
	var n float64
	for _, s := range p.segments {
		n += (s.from + s.to) / 2 * s.duration.Seconds()
	}
	return n
}
