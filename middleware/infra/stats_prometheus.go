package infra

import (
	"context"

	"asset-gateway/middleware/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe as decisões como contador por guarda/resultado.
// Key e Path ficam fora dos labels para não explodir a cardinalidade.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer) (*PrometheusStatsStore, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetgw",
		Name:      "guard_decisions_total",
		Help:      "Decisões das guardas de acesso por resultado.",
	}, []string{"guard", "outcome"})
	if reg != nil {
		if err := reg.Register(decisions); err != nil {
			return nil, err
		}
	}
	return &PrometheusStatsStore{decisions: decisions}, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	s.decisions.WithLabelValues(ev.Guard, outcome).Inc()
	return nil
}

// Collector permite registrar/inspecionar o vetor em testes.
func (s *PrometheusStatsStore) Collector() prometheus.Collector { return s.decisions }
