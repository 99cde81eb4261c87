package main

import (
	"fmt"
	"slices"
	"time"
)

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	mean     time.Duration
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	max      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	s := phaseStats{total: total, failures: failures}
	if len(samples) == 0 {
		return s
	}
	slices.Sort(samples)

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	s.ops = len(samples)
	s.mean = sum / time.Duration(len(samples))
	s.p50 = percentile(samples, 50)
	s.p95 = percentile(samples, 95)
	s.p99 = percentile(samples, 99)
	s.max = samples[len(samples)-1]
	if total > 0 {
		s.opsPerS = float64(len(samples)) / total.Seconds()
	}
	return s
}

// percentile expects sorted samples.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	p = min(max(p, 0), 100)
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	us := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	fmt.Printf("%-8s ops=%d failures=%d total=%s ops/sec=%.0f mean=%s p50=%s p95=%s p99=%s max=%s\n",
		name, s.ops, s.failures, s.total.Round(time.Millisecond), s.opsPerS,
		us(s.mean), us(s.p50), us(s.p95), us(s.p99), us(s.max))
}
