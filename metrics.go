package encfs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	modeEncrypted = "encrypted"
	modePlain     = "plain"
)

// Metrics counts content operations. A nil *Metrics records nothing.
type Metrics struct {
	reads       *prometheus.CounterVec
	writes      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	transformed *prometheus.CounterVec
}

// NewMetrics creates the encfs counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "encfs",
			Name:      "reads_total",
			Help:      "Read operations, by whether the file was encrypted.",
		}, []string{"mode"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "encfs",
			Name:      "writes_total",
			Help:      "Write operations, by whether the file was encrypted.",
		}, []string{"mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "encfs",
			Name:      "crypto_failures_total",
			Help:      "Failed encrypt or decrypt transforms.",
		}, []string{"direction"}),
		transformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "encfs",
			Name:      "bytes_transformed_total",
			Help:      "Plaintext bytes passed through the crypto transform.",
		}, []string{"direction"}),
	}

	for _, c := range []prometheus.Collector{m.reads, m.writes, m.failures, m.transformed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func mode(encrypted bool) string {
	if encrypted {
		return modeEncrypted
	}
	return modePlain
}

func (m *Metrics) read(encrypted bool) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(mode(encrypted)).Inc()
}

func (m *Metrics) write(encrypted bool) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(mode(encrypted)).Inc()
}

func (m *Metrics) cryptoFailure(dir Direction) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(dir.String()).Inc()
}

func (m *Metrics) bytesTransformed(dir Direction, n int) {
	if m == nil {
		return
	}
	m.transformed.WithLabelValues(dir.String()).Add(float64(n))
}
