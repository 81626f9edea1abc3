package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/basket/lexflow/internal/bus"
	"github.com/basket/lexflow/internal/queue"
)

const (
	// DefaultAgentID is the agent analysis tasks are routed to.
	DefaultAgentID = "analysis"
	// DefaultTaskType marks tasks produced by the pipeline.
	DefaultTaskType = "publication-analysis"
)

// Summary reports the outcome of one sync cycle.
type Summary struct {
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// TaskPayload is the data attached to each enqueued analysis task.
type TaskPayload struct {
	Record    NormalizedRecord `json:"record"`
	MatchType MatchType        `json:"matchType"`
	Identity  Identity         `json:"identity"`
	Hash      string           `json:"hash"`
}

// Config holds the pipeline's dependencies.
type Config struct {
	Source SourceClient
	Policy FetchPolicy
	Queue  *queue.Queue
	Dedup  *queue.DedupStore
	Logger *slog.Logger

	// Bus, when set, receives a task.enqueued event per ingested record.
	Bus *bus.Bus

	// AgentID and TaskType override the defaults for produced tasks.
	AgentID  string
	TaskType string
}

// Pipeline is the dedup ingestion pipeline: source → normalize → dedup →
// classify → enqueue.
type Pipeline struct {
	fetcher  *Fetcher
	queue    *queue.Queue
	dedup    *queue.DedupStore
	bus      *bus.Bus
	logger   *slog.Logger
	agentID  string
	taskType string
}

// NewPipeline creates a Pipeline from cfg.
func NewPipeline(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = DefaultAgentID
	}
	taskType := cfg.TaskType
	if taskType == "" {
		taskType = DefaultTaskType
	}
	return &Pipeline{
		fetcher:  NewFetcher(cfg.Source, cfg.Policy),
		queue:    cfg.Queue,
		dedup:    cfg.Dedup,
		bus:      cfg.Bus,
		logger:   logger,
		agentID:  agentID,
		taskType: taskType,
	}
}

// Sync runs one cycle for the given identity and window. Per-record failures
// are logged and counted without aborting the batch; a source failure after
// the retry policy aborts the cycle with the partial summary. Running the
// same window twice enqueues nothing the second time.
func (p *Pipeline) Sync(ctx context.Context, q Query) (Summary, error) {
	var summary Summary

	records, err := p.fetcher.Query(ctx, q)
	if err != nil {
		return summary, fmt.Errorf("sync %q: %w", q.Identity.Name, err)
	}

	for _, raw := range records {
		if err := p.ingestRecord(ctx, raw, q.Identity); err != nil {
			if isDuplicate(err) {
				summary.Duplicates++
				continue
			}
			summary.Failed++
			p.logger.Warn("record ingestion failed",
				"communication_id", raw.CommunicationID,
				"process_number", raw.ProcessNumber,
				"error", err,
			)
			continue
		}
		summary.Ingested++
	}

	p.logger.Info("sync cycle finished",
		"identity", q.Identity.Name,
		"jurisdiction", q.Jurisdiction,
		"ingested", summary.Ingested,
		"duplicates", summary.Duplicates,
		"failed", summary.Failed,
	)
	return summary, nil
}

// duplicateError signals a record suppressed by the dedup store. Internal only.
type duplicateError struct{ hash string }

func (e duplicateError) Error() string { return fmt.Sprintf("duplicate record %s", e.hash) }

func isDuplicate(err error) bool {
	var d duplicateError
	return errors.As(err, &d)
}

func (p *Pipeline) ingestRecord(ctx context.Context, raw RawRecord, id Identity) error {
	if raw.CommunicationID == "" || raw.ProcessNumber == "" {
		return fmt.Errorf("%w: record missing communication or process id", queue.ErrValidation)
	}

	rec := NormalizeRecord(raw)
	hash := ContentHash(rec, id)

	written, err := p.dedup.MarkSeen(ctx, hash)
	if err != nil {
		return err
	}
	if !written {
		return duplicateError{hash: hash}
	}

	payload := TaskPayload{
		Record:    rec,
		MatchType: ClassifyMatch(rec, id),
		Identity:  id,
		Hash:      hash,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}
	task := &queue.AgentTask{
		AgentID: p.agentID,
		Type:    p.taskType,
		Data:    data,
	}
	if _, err := p.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue analysis task: %w", err)
	}
	if p.bus != nil {
		p.bus.Publish(bus.TopicTaskEnqueued, bus.TaskEvent{
			TaskID:  task.ID,
			AgentID: task.AgentID,
			Status:  string(task.Status),
		})
	}
	p.logger.Debug("record ingested",
		"task_id", task.ID,
		"hash", hash,
		"match_type", payload.MatchType,
	)
	return nil
}
