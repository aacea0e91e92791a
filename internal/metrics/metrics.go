package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	CampaignsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_started_total",
			Help: "Total bulk campaigns initialized",
		},
	)

	CampaignsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_completed_total",
			Help: "Total bulk campaigns that processed every recipient",
		},
	)

	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_persist_failures_total",
			Help: "Ticks aborted because the job record could not be saved",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_tick_duration_seconds",
			Help:    "Time spent processing one recipient",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(CampaignsStarted)
	prometheus.MustRegister(CampaignsCompleted)
	prometheus.MustRegister(PersistFailures)
	prometheus.MustRegister(TickDuration)
}
