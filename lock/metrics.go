package lock

import "github.com/prometheus/client_golang/prometheus"

var (
	// acquiredTotal tracks granted lock acquisitions per backend.
	acquiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_acquired_total",
		Help: "Total number of lock acquisitions granted",
	}, []string{"backend"})
	// deniedTotal tracks denied or failed lock acquisitions per backend.
	deniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_denied_total",
		Help: "Total number of lock acquisitions denied",
	}, []string{"backend"})
	// releaseFailuresTotal tracks releases the backend could not confirm.
	releaseFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_release_failures_total",
		Help: "Total number of lock releases that failed",
	}, []string{"backend"})
)

// RegisterMetrics registers the lock metrics on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(acquiredTotal, deniedTotal, releaseFailuresTotal)
}
