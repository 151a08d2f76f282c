package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type transportMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.SummaryVec
}

func newTransportMetrics() transportMetrics {
	return transportMetrics{
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amp_autoshutdown",
			Subsystem: "amp",
			Name:      "http_requests_total",
			Help:      "total number of http requests to the AMP API",
		},
			[]string{"code", "method"},
		),
		requestDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "amp_autoshutdown",
			Subsystem: "amp",
			Name:      "http_request_duration_seconds",
			Help:      "duration of http requests to the AMP API",
		},
			[]string{"code", "method"},
		),
	}
}

func (m transportMetrics) instrument(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(m.requestCounter,
		promhttp.InstrumentRoundTripperDuration(m.requestDuration,
			next,
		),
	)
}

func (m transportMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestCounter.Describe(ch)
	m.requestDuration.Describe(ch)
}

func (m transportMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestCounter.Collect(ch)
	m.requestDuration.Collect(ch)
}
