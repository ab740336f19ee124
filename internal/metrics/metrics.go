package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapflow_messages_total",
			Help: "Campaign messages by final status",
		},
		[]string{"status"},
	)
	CampaignRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapflow_campaign_runs_total",
			Help: "Dispatch job outcomes",
		},
		[]string{"outcome"},
	)
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapflow_jobs_total",
			Help: "Queue jobs processed by type and result",
		},
		[]string{"type", "result"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zapflow_job_duration_seconds",
			Help:    "Queue job run time",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"type"},
	)
	BotMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapflow_bot_messages_total",
			Help: "Automation node sends by result",
		},
		[]string{"result"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapflow_webhook_events_total",
			Help: "Gateway webhook events received by event name",
		},
		[]string{"event"},
	)
	SchedulerEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zapflow_scheduler_enqueued_total",
			Help: "Dispatch jobs enqueued by the scheduler",
		},
	)
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"MessagesTotal":     MessagesTotal,
		"CampaignRuns":      CampaignRuns,
		"JobsTotal":         JobsTotal,
		"JobDuration":       JobDuration,
		"BotMessages":       BotMessages,
		"WebhookEvents":     WebhookEvents,
		"SchedulerEnqueued": SchedulerEnqueued,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
