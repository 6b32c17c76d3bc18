package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "jmeter_plan_worker"

var (
	// Worker metrics live in their own registry; the upstream client metrics stay
	// in the default one and both are exposed together.
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "jmeter_plan_worker_tasks_received_total",
			Help: "Total number of plan generation tasks received.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "jmeter_plan_worker_tasks_failed_total",
			Help: "Total number of tasks that did not produce a plan, by reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "jmeter_plan_worker_tasks_succeeded_total",
			Help: "Total number of tasks that produced a plan.",
		},
	)
	taskDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jmeter_plan_worker_task_duration_seconds",
			Help:    "Histogram of task processing durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
	)
)

const (
	failureReasonDecode      = "deserialization"
	failureReasonEmptyPrompt = "empty_prompt"
	failureReasonGeneration  = "generation"
	failureReasonStorage     = "storage"
)

func MetricsIncrementTasksReceived() { tasksReceived.Inc() }

func MetricsIncrementTaskFailed(reason string) { tasksFailed.WithLabelValues(reason).Inc() }

func MetricsIncrementTaskSucceeded() { tasksSucceeded.Inc() }

func MetricsRecordTaskDuration(d time.Duration) { taskDuration.Observe(d.Seconds()) }

// MetricsIncrementDecodeFailure counts a message that could not be decoded.
func MetricsIncrementDecodeFailure() {
	tasksReceived.Inc()
	tasksFailed.WithLabelValues(failureReasonDecode).Inc()
}

func gatherers() prometheus.Gatherers {
	return prometheus.Gatherers{registry, prometheus.DefaultGatherer}
}

// MetricsHandler serves the worker and upstream client metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(gatherers(), promhttp.HandlerOpts{})
}

// MetricsPusher pushes the same metrics to a Pushgateway.
type MetricsPusher struct {
	pusher *push.Pusher
	logger *zap.Logger
}

// NewMetricsPusher creates a pusher grouped by host and pid, and pushes once to
// check the gateway is reachable.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	p := &MetricsPusher{
		pusher: push.New(pushgatewayURL, jobName).Gatherer(gatherers()).Grouping("instance", instanceID),
		logger: logger.Named("MetricsPusher"),
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	p.logger.Info("Pushgateway pusher initialized", zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return p, nil
}

// Run pushes every interval until ctx is done, then deletes this instance's metrics.
func (p *MetricsPusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := p.pusher.Delete(); err != nil {
				p.logger.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := p.pusher.Push(); err != nil {
				p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
			}
		}
	}
}
