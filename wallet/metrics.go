package wallet

import "github.com/prometheus/client_golang/prometheus"

// Metrics records melt activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	quotesTotal       *prometheus.CounterVec
	meltsTotal        *prometheus.CounterVec
	settledMsatsTotal prometheus.Counter
	feesMsatsTotal    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	quotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nutmelt_quotes_total",
		Help: "Total number of melt quote negotiations per token group",
	}, []string{"result"})

	melts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nutmelt_melts_total",
		Help: "Total number of melt requests submitted to mints",
	}, []string{"result"})

	settled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutmelt_settled_msats_total",
		Help: "Millisats settled through successful melts",
	})

	fees := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutmelt_fees_msats_total",
		Help: "Millisats reserved for fees in negotiated quotes",
	})

	for _, c := range []prometheus.Collector{quotes, melts, settled, fees} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		quotesTotal:       quotes,
		meltsTotal:        melts,
		settledMsatsTotal: settled,
		feesMsatsTotal:    fees,
	}, nil
}

func (m *Metrics) incQuote(result string, feesMsats uint64) {
	if m == nil {
		return
	}
	m.quotesTotal.WithLabelValues(result).Inc()
	m.feesMsatsTotal.Add(float64(feesMsats))
}

func (m *Metrics) incMelt(result string, settledMsats uint64) {
	if m == nil {
		return
	}
	m.meltsTotal.WithLabelValues(result).Inc()
	m.settledMsatsTotal.Add(float64(settledMsats))
}
