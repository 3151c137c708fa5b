package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// sessionMetrics is the latest known gauge values for one session, keyed
// by its correlation id rather than a file descriptor.
type sessionMetrics struct {
	rwnd             float64
	cwnd             float64
	ssthresh         float64
	rtoSeconds       float64
	totalTimeouts    float64
	totalFastResends float64
}

// PrometheusCollector implements prometheus.Collector, exposing gauges
// per live or finished session labeled by its correlation id. Grounded on
// runZeroInc-sockstats/pkg/exporter.TCPInfoCollector's Describe/Collect/
// Add/Remove shape.
type PrometheusCollector struct {
	mu       sync.Mutex
	sessions map[string]*sessionMetrics

	rwndDesc      *prometheus.Desc
	cwndDesc      *prometheus.Desc
	ssthreshDesc  *prometheus.Desc
	rtoDesc       *prometheus.Desc
	timeoutsDesc  *prometheus.Desc
	resendsDesc   *prometheus.Desc
}

// NewPrometheusCollector builds a collector ready for registration with a
// prometheus.Registry.
func NewPrometheusCollector() *PrometheusCollector {
	labels := []string{"session"}
	return &PrometheusCollector{
		sessions: make(map[string]*sessionMetrics),
		rwndDesc: prometheus.NewDesc("filexfer_rwnd", "Advertised receive window in frames.",
			labels, nil),
		cwndDesc: prometheus.NewDesc("filexfer_cwnd", "Congestion window in frames.",
			labels, nil),
		ssthreshDesc: prometheus.NewDesc("filexfer_ssthresh", "Slow-start threshold in frames.",
			labels, nil),
		rtoDesc: prometheus.NewDesc("filexfer_rto_seconds", "Current retransmission timeout.",
			labels, nil),
		timeoutsDesc: prometheus.NewDesc("filexfer_total_timeouts", "Cumulative ACK timeouts.",
			labels, nil),
		resendsDesc: prometheus.NewDesc("filexfer_total_fast_resends", "Cumulative fast retransmissions.",
			labels, nil),
	}
}

func (c *PrometheusCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.rwndDesc
	descs <- c.cwndDesc
	descs <- c.ssthreshDesc
	descs <- c.rtoDesc
	descs <- c.timeoutsDesc
	descs <- c.resendsDesc
}

func (c *PrometheusCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for session, m := range c.sessions {
		metrics <- prometheus.MustNewConstMetric(c.rwndDesc, prometheus.GaugeValue, m.rwnd, session)
		metrics <- prometheus.MustNewConstMetric(c.cwndDesc, prometheus.GaugeValue, m.cwnd, session)
		metrics <- prometheus.MustNewConstMetric(c.ssthreshDesc, prometheus.GaugeValue, m.ssthresh, session)
		metrics <- prometheus.MustNewConstMetric(c.rtoDesc, prometheus.GaugeValue, m.rtoSeconds, session)
		metrics <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.CounterValue, m.totalTimeouts, session)
		metrics <- prometheus.MustNewConstMetric(c.resendsDesc, prometheus.CounterValue, m.totalFastResends, session)
	}
}

// Observe records the latest sample for its session.
func (c *PrometheusCollector) Observe(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.sessions[s.Session]
	if !ok {
		entry = &sessionMetrics{}
		c.sessions[s.Session] = entry
	}
	entry.rwnd = float64(s.Rwnd)
	entry.cwnd = s.Cwnd
	entry.ssthresh = s.Ssthresh
	entry.rtoSeconds = s.RTO.Seconds()
}

// Finish records terminal counters. The session entry is kept (not
// removed) so its final values remain scrapeable until Remove is called.
func (c *PrometheusCollector) Finish(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.sessions[s.Session]
	if !ok {
		entry = &sessionMetrics{}
		c.sessions[s.Session] = entry
	}
	entry.totalTimeouts = float64(s.TotalTimeouts)
	entry.totalFastResends = float64(s.TotalFastResends)
}

// Remove drops a session's entry, used by the dispatcher when a worker's
// session ends and its sign is released.
func (c *PrometheusCollector) Remove(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, session)
}
