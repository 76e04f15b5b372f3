package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "grip"

// Metrics holds the HTTP and domain collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	AccessKeysCreated *prometheus.CounterVec
	AccessKeysRevoked *prometheus.CounterVec
	SyncMembers       *prometheus.CounterVec
	SyncRuns          *prometheus.CounterVec
	ReposClaimed      prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultInst *Metrics
)

// Default returns the collectors registered with the prometheus default registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultInst = New(prometheus.DefaultRegisterer)
	})
	return defaultInst
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_class"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP requests with status >= 400.",
		}, []string{"method", "route", "status_code"}),
		AccessKeysCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access_keys",
			Name:      "created_total",
			Help:      "Access keys created, by kind.",
		}, []string{"kind"}),
		AccessKeysRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access_keys",
			Name:      "revoked_total",
			Help:      "Access keys revoked, by reason.",
		}, []string{"reason"}),
		SyncMembers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "github_sync",
			Name:      "members_total",
			Help:      "Members changed by GitHub membership sync.",
		}, []string{"change"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "github_sync",
			Name:      "runs_total",
			Help:      "GitHub membership sync runs, by outcome.",
		}, []string{"outcome"}),
		ReposClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repos",
			Name:      "claimed_total",
			Help:      "Repositories claimed through GitHub App installations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RequestTotal, m.RequestDuration, m.RequestErrors,
			m.AccessKeysCreated, m.AccessKeysRevoked, m.SyncMembers, m.SyncRuns, m.ReposClaimed)
	}
	return m
}

func (m *Metrics) KeyCreated(kind string) {
	if m != nil {
		m.AccessKeysCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) KeyRevoked(reason string) {
	if m != nil {
		m.AccessKeysRevoked.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) MembersSynced(added, removed int) {
	if m != nil {
		m.SyncMembers.WithLabelValues("added").Add(float64(added))
		m.SyncMembers.WithLabelValues("removed").Add(float64(removed))
	}
}

func (m *Metrics) SyncRun(outcome string) {
	if m != nil {
		m.SyncRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RepoClaimed(n int) {
	if m != nil {
		m.ReposClaimed.Add(float64(n))
	}
}
