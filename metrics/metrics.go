// Package metrics holds the Prometheus instruments of the beacon node.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Import results.
const (
	ResultImported = "imported"
	ResultInvalid  = "invalid"
	ResultOrphan   = "orphan"
	ResultError    = "error"
)

// Gossip validation results.
const (
	GossipAccept = "accept"
	GossipIgnore = "ignore"
	GossipReject = "reject"
)

// Metrics is a set of instruments registered on one registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	blocksImported   *prometheus.CounterVec
	importDuration   prometheus.Histogram
	reorgs           prometheus.Counter
	reorgDepth       prometheus.Histogram
	headSlot         prometheus.Gauge
	poolSize         prometheus.Gauge
	gossipValidation *prometheus.CounterVec
	peerCount        prometheus.Gauge
	pendingBlocks    prometheus.Gauge
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		blocksImported: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_blocks_imported_total",
				Help: "Blocks handed to the chain, by import result",
			},
			[]string{"result"},
		),
		importDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "beacon_block_import_seconds",
				Help:    "Time spent importing a block, state transition and commit included",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		reorgs: f.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_reorgs_total",
				Help: "Imports that removed blocks from the canonical chain",
			},
		),
		reorgDepth: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "beacon_reorg_depth",
				Help:    "Number of canonical blocks removed by a reorg",
				Buckets: prometheus.LinearBuckets(1, 1, 8),
			},
		),
		headSlot: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_head_slot",
				Help: "Slot of the canonical head",
			},
		),
		poolSize: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_attestation_pool_size",
				Help: "Attestations waiting for inclusion",
			},
		),
		gossipValidation: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_gossip_validation_total",
				Help: "Gossip messages validated, by topic and result",
			},
			[]string{"topic", "result"},
		),
		peerCount: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_peer_count",
				Help: "Connected libp2p peers",
			},
		),
		pendingBlocks: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_pending_blocks",
				Help: "Blocks parked until their parent is imported",
			},
		),
	}
}

func (m *Metrics) RecordImport(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.blocksImported.WithLabelValues(result).Inc()
	if result == ResultImported {
		m.importDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RecordReorg(depth int) {
	if m == nil || depth == 0 {
		return
	}
	m.reorgs.Inc()
	m.reorgDepth.Observe(float64(depth))
}

func (m *Metrics) SetHeadSlot(slot uint64) {
	if m == nil {
		return
	}
	m.headSlot.Set(float64(slot))
}

func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(n))
}

func (m *Metrics) RecordGossip(topic, result string) {
	if m == nil {
		return
	}
	m.gossipValidation.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) SetPeerCount(n int) {
	if m == nil {
		return
	}
	m.peerCount.Set(float64(n))
}

func (m *Metrics) SetPendingBlocks(n int) {
	if m == nil {
		return
	}
	m.pendingBlocks.Set(float64(n))
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
