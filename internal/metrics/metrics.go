// Package metrics exposes the node's Prometheus counters and gauges: a
// handful of signals an operator actually wants on a dashboard for a
// configuration governance chain — block throughput and height,
// accepted proposals and votes, and admission rejections by reason.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BlocksCommitted counts every block the consensus engine has
	// applied since process start.
	BlocksCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "configchain",
		Name:      "blocks_committed_total",
		Help:      "Total number of blocks committed by the consensus engine.",
	})

	// CurrentHeight tracks the last-committed block height.
	CurrentHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "configchain",
		Name:      "current_height",
		Help:      "Height of the last block committed by this node.",
	})

	// ProposalsAccepted counts Propose transactions that passed every
	// admission predicate and were recorded.
	ProposalsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "configchain",
		Name:      "proposals_accepted_total",
		Help:      "Total number of Propose transactions recorded.",
	})

	// VotesAccepted counts Vote transactions that passed every admission
	// predicate and were recorded.
	VotesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "configchain",
		Name:      "votes_accepted_total",
		Help:      "Total number of Vote transactions recorded.",
	})

	// AdmissionRejections counts rejected Propose/Vote transactions by
	// the AdmissionError Kind that rejected them, so an operator can see
	// at a glance whether rejections are e.g. mostly stale references
	// (a slow validator) or duplicate votes (a noisy retrying client).
	AdmissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "configchain",
		Name:      "admission_rejections_total",
		Help:      "Total number of Propose/Vote transactions rejected, by admission error kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(BlocksCommitted, CurrentHeight, ProposalsAccepted, VotesAccepted, AdmissionRejections)
}
