package workers

import (
	"time"
)

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	return p.metrics
}

func (p *Pool) incrementSubmitted() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.TasksSubmitted++
}

func (p *Pool) incrementCompleted() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.TasksCompleted++
}

func (p *Pool) incrementFailed() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.TasksFailed++
}

// incrementPanicked counts a panic as a failure too.
func (p *Pool) incrementPanicked() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.TasksPanicked++
	p.metrics.TasksFailed++
}

func (p *Pool) recordDuration(d time.Duration) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.TotalDuration += d
}
