package cashclose

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the cash close Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	closesTotal       *prometheus.CounterVec
	negativeCashTotal prometheus.Counter
	degradedTotal     *prometheus.CounterVec
	anomaliesTotal    prometheus.Counter
}

// NewMetrics registers the cash close collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		closesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgefit_cash_close_total",
			Help: "Cash period close attempts by outcome code.",
		}, []string{"outcome"}),
		negativeCashTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgefit_cash_close_negative_expected_total",
			Help: "Closes committed with a negative expected cash amount.",
		}),
		degradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgefit_cash_preview_degraded_total",
			Help: "Preview sub-queries that failed and were replaced by zeros.",
		}, []string{"query"}),
		anomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgefit_cash_open_period_anomalies_total",
			Help: "Times more than one OPEN cash period was observed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.closesTotal, m.negativeCashTotal, m.degradedTotal, m.anomaliesTotal)
	}
	return m
}

func (m *Metrics) closeOutcome(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		_, code, _ := MapError(err)
		outcome = string(code)
	}
	m.closesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) negativeCash() {
	if m == nil {
		return
	}
	m.negativeCashTotal.Inc()
}

func (m *Metrics) previewDegraded(query string) {
	if m == nil {
		return
	}
	m.degradedTotal.WithLabelValues(query).Inc()
}

func (m *Metrics) openAnomaly() {
	if m == nil {
		return
	}
	m.anomaliesTotal.Inc()
}
