package metrics

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// StatsdSink fans counters/gauges/timings out over UDP in statsd line
// protocol (spec.md §6 "Metrics Sink (external)... UDP fan-out"),
// grounded in the teacher's pkg/metrics/collector.go ticker-driven sampling
// loop, adapted here from a pull-based Prometheus registry to a push-based
// UDP client matching the original implementation's eva/statsd.py.
type StatsdSink struct {
	conn   net.Conn
	prefix string
	tags   map[string]string
}

// NewStatsdSink dials addr ("host:port") over UDP. UDP "dial" never blocks
// on the network; writes are fire-and-forget, matching the original's
// best-effort statsd client.
func NewStatsdSink(addr, prefix string) (*StatsdSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: dial statsd %s: %w", addr, err)
	}
	return &StatsdSink{conn: conn, prefix: prefix, tags: map[string]string{}}, nil
}

// WithTags returns a copy of the sink that appends the given tags
// (service_backend, executor, adapter, ...) to every metric it sends.
func (s *StatsdSink) WithTags(tags map[string]string) *StatsdSink {
	merged := make(map[string]string, len(s.tags)+len(tags))
	for k, v := range s.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return &StatsdSink{conn: s.conn, prefix: s.prefix, tags: merged}
}

// Count sends a counter increment.
func (s *StatsdSink) Count(name string, delta int64) {
	s.send(name, fmt.Sprintf("%d|c", delta))
}

// Gauge sends a point-in-time value.
func (s *StatsdSink) Gauge(name string, value float64) {
	s.send(name, fmt.Sprintf("%g|g", value))
}

// Timing sends a duration in milliseconds.
func (s *StatsdSink) Timing(name string, d time.Duration) {
	s.send(name, fmt.Sprintf("%d|ms", d.Milliseconds()))
}

func (s *StatsdSink) send(name, valuePart string) {
	line := s.metricName(name) + ":" + valuePart
	if tagSuffix := s.tagSuffix(); tagSuffix != "" {
		line += tagSuffix
	}
	_, _ = s.conn.Write([]byte(line))
}

func (s *StatsdSink) metricName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "." + name
}

// tagSuffix renders tags as a "|#k:v,k:v" DataDog-style suffix, the most
// common statsd tag extension and the one the original implementation's
// eva/statsd.py produces.
func (s *StatsdSink) tagSuffix() string {
	if len(s.tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.tags))
	for k, v := range s.tags {
		parts = append(parts, k+":"+v)
	}
	return "|#" + strings.Join(parts, ",")
}

// Close releases the underlying UDP socket.
func (s *StatsdSink) Close() error {
	return s.conn.Close()
}
