package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry preloaded with the go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return reg
}

func Handler(reg *prometheus.Registry) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
}

type Outbox struct {
	Published     *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Retried       prometheus.Counter
	Cleaned       prometheus.Counter
	BatchDuration prometheus.Histogram
}

func NewOutbox(reg prometheus.Registerer) *Outbox {
	m := &Outbox{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to their handler successfully.",
		}, []string{"aggregate_type"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_failed_total",
			Help: "Outbox events whose handler failed or was missing.",
		}, []string{"aggregate_type"}),
		Retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_retried_total",
			Help: "FAILED outbox events moved back to PENDING.",
		}),
		Cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_cleaned_total",
			Help: "PUBLISHED outbox events purged after retention.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Duration of one publish batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.Published, m.Failed, m.Retried, m.Cleaned, m.BatchDuration)

	return m
}

type Auction struct {
	BidsPlaced   prometheus.Counter
	BidsRejected *prometheus.CounterVec
	Extensions   prometheus.Counter
	Closed       *prometheus.CounterVec
	Started      prometheus.Counter
	BuyNow       *prometheus.CounterVec
	Conflicts    prometheus.Counter
	Enrichment   *prometheus.CounterVec
}

func NewAuction(reg prometheus.Registerer) *Auction {
	m := &Auction{
		BidsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_bids_placed_total",
			Help: "Accepted bids.",
		}),
		BidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Rejected bids by reason.",
		}, []string{"reason"}),
		Extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_extensions_total",
			Help: "Auto-extensions applied by late bids.",
		}),
		Closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_closed_total",
			Help: "Closed auctions by terminal status.",
		}, []string{"status"}),
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_started_total",
			Help: "Auctions moved from SCHEDULED to ACTIVE.",
		}),
		BuyNow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_buy_now_total",
			Help: "Buy-now lifecycle transitions by outcome.",
		}, []string{"outcome"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_concurrency_conflicts_total",
			Help: "Operations aborted by lock timeouts or version mismatches.",
		}),
		Enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_enrichment_total",
			Help: "Seller nickname lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.BidsPlaced, m.BidsRejected, m.Extensions, m.Closed, m.Started, m.BuyNow, m.Conflicts, m.Enrichment)

	return m
}

type Settlement struct {
	CandidatesIngested *prometheus.CounterVec
	Collected          prometheus.Counter
	CollectFailures    prometheus.Counter
	Completed          prometheus.Counter
	CompleteFailures   prometheus.Counter
	PayoutAmount       prometheus.Histogram
}

func NewSettlement(reg prometheus.Registerer) *Settlement {
	m := &Settlement{
		CandidatesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_candidates_ingested_total",
			Help: "Settlement candidates created from order events by kind.",
		}, []string{"kind"}),
		Collected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_candidates_collected_total",
			Help: "Candidates folded into an OPEN settlement.",
		}),
		CollectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_collect_failures_total",
			Help: "Candidates that failed to collect and were skipped for this run.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_completed_total",
			Help: "Settlements moved to SETTLED.",
		}),
		CompleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_complete_failures_total",
			Help: "Settlements that failed to complete in a run.",
		}),
		PayoutAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_payout_amount",
			Help:    "Payout amounts sent to the payout service.",
			Buckets: prometheus.ExponentialBuckets(1000, 10, 7),
		}),
	}

	reg.MustRegister(m.CandidatesIngested, m.Collected, m.CollectFailures, m.Completed, m.CompleteFailures, m.PayoutAmount)

	return m
}
