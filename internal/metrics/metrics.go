// Package metrics はPrometheusメトリクスを提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry はKMEのメトリクスを保持する。
type Registry struct {
	registry *prometheus.Registry

	KeysIssuedTotal    *prometheus.CounterVec
	KeysRetrievedTotal *prometheus.CounterVec
	KeysMissedTotal    *prometheus.CounterVec
	StoredKeys         prometheus.Gauge
}

// NewRegistry は独立したレジストリにメトリクスを登録して返す。
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{registry: reg}

	r.KeysIssuedTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkd_kme_keys_issued_total",
			Help: "Total number of encryption keys issued",
		},
		[]string{"slave_sae_id"},
	)
	r.KeysRetrievedTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkd_kme_keys_retrieved_total",
			Help: "Total number of decryption keys retrieved",
		},
		[]string{"master_sae_id"},
	)
	r.KeysMissedTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkd_kme_keys_missed_total",
			Help: "Total number of requested key IDs that were not found",
		},
		[]string{"master_sae_id"},
	)
	r.StoredKeys = promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "qkd_kme_stored_keys",
			Help: "Number of keys currently held in the key store",
		},
	)
	return r
}

// KeysIssued は払い出した暗号化鍵の件数を記録する。
func (r *Registry) KeysIssued(slaveSAEID string, n int) {
	r.KeysIssuedTotal.WithLabelValues(slaveSAEID).Add(float64(n))
	r.StoredKeys.Add(float64(n))
}

// KeysRetrieved は取得された復号鍵の件数を記録する。
func (r *Registry) KeysRetrieved(masterSAEID string, n int) {
	r.KeysRetrievedTotal.WithLabelValues(masterSAEID).Add(float64(n))
}

// KeysMissed は見つからなかった鍵IDの件数を記録する。
func (r *Registry) KeysMissed(masterSAEID string, n int) {
	r.KeysMissedTotal.WithLabelValues(masterSAEID).Add(float64(n))
}

// SetStoredKeys は起動時の鍵件数を設定する。
func (r *Registry) SetStoredKeys(n int) {
	r.StoredKeys.Set(float64(n))
}

// Handler は/metrics用のハンドラを返す。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer はテストや外部エクスポート用にレジストリを返す。
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
