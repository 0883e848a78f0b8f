// Package sampler implements the resource sampler from §4: periodically
// reading a child process's CPU time and resident memory via
// process.NewProcess + CPUPercent/MemoryInfo from gopsutil/v3, narrowed
// to just the one supervised child.
package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/bc-dunia/gatortree/internal/config"
)

// Sample is one resource reading, per §3's Resource sample shape.
type Sample struct {
	Timestamp  int64
	CPUPercent float64
	RSSBytes   uint64
}

// Sink receives samples as they're taken.
type Sink func(Sample)

// Interval is the §4.5 MONITOR sampler tick: every 5s.
const Interval = config.DefaultSampleInterval

// Sampler polls one child process's CPU and memory usage on a ticker.
type Sampler struct {
	proc *process.Process
	sink Sink

	cpuMax float64
	rssMax uint64
}

// New attaches a Sampler to pid. Returns an error if the process cannot
// be inspected (e.g. already exited).
func New(pid int32, sink Sink) (*Sampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("attach sampler to pid %d: %w", pid, err)
	}
	return &Sampler{proc: proc, sink: sink}, nil
}

// Run samples on Interval until ctx is canceled. Errors reading a single
// sample (e.g. a momentarily-unavailable /proc entry) are swallowed —
// the sampler just skips that tick, since a single missed sample is not
// a child-runtime error per §7's taxonomy.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		return
	}
	memInfo, err := s.proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return
	}
	if cpuPct > s.cpuMax {
		s.cpuMax = cpuPct
	}
	if memInfo.RSS > s.rssMax {
		s.rssMax = memInfo.RSS
	}
	s.sink(Sample{
		Timestamp:  time.Now().Unix(),
		CPUPercent: cpuPct,
		RSSBytes:   memInfo.RSS,
	})
}

// Maxima returns the running maxima the §4.5 MONITOR phase folds into
// the cpu_percent_max/rss_bytes_max metrics.
func (s *Sampler) Maxima() (cpuPercentMax float64, rssBytesMax uint64) {
	return s.cpuMax, s.rssMax
}
