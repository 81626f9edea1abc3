package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Lexflow metrics instruments.
type Metrics struct {
	TaskDuration     metric.Float64Histogram
	TaskRetries      metric.Int64Counter
	TasksEnqueued    metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	TasksFailed      metric.Int64Counter
	TasksCanceled    metric.Int64Counter
	ActiveRuns       metric.Int64UpDownCounter
	QueueDepth       metric.Int64Gauge
	LLMCallDuration  metric.Float64Histogram
	IngestRecords    metric.Int64Counter
	IngestDuplicates metric.Int64Counter
	SyncDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("lexflow.task.duration",
		metric.WithDescription("Task run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("lexflow.task.retries",
		metric.WithDescription("Task attempts beyond the first"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksEnqueued, err = meter.Int64Counter("lexflow.task.enqueued",
		metric.WithDescription("Tasks enqueued by the ingestion pipeline"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("lexflow.task.completed",
		metric.WithDescription("Tasks finished successfully"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("lexflow.task.failed",
		metric.WithDescription("Tasks that exhausted their attempt budget"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCanceled, err = meter.Int64Counter("lexflow.task.canceled",
		metric.WithDescription("Tasks canceled by an operator"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter("lexflow.run.active",
		metric.WithDescription("Number of currently active task runs"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64Gauge("lexflow.queue.depth",
		metric.WithDescription("Pending tasks in the queue"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("lexflow.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestRecords, err = meter.Int64Counter("lexflow.ingest.records",
		metric.WithDescription("Publication records ingested"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestDuplicates, err = meter.Int64Counter("lexflow.ingest.duplicates",
		metric.WithDescription("Publication records suppressed as duplicates"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("lexflow.sync.duration",
		metric.WithDescription("Ingestion sync cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
