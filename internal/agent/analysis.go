package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/lexflow/internal/ingest"
	"github.com/basket/lexflow/internal/llm"
)

const analysisSystemPrompt = `You are a legal assistant reviewing court communications ` +
	`addressed to a monitored professional. Answer in plain prose, in the language ` +
	`of the communication. Be precise about deadlines and required actions.`

// AnalysisAgent reviews one ingested publication in three steps: extract the
// facts from the payload, ask the model what the communication requires, and
// condense the answer into a short summary. All steps are pure or idempotent,
// so a whole-run restart after a failure is safe.
type AnalysisAgent struct {
	id      string
	invoker llm.Invoker
}

// NewAnalysisAgent creates the publication-analysis agent.
func NewAnalysisAgent(id string, invoker llm.Invoker) *AnalysisAgent {
	if id == "" {
		id = "analysis"
	}
	return &AnalysisAgent{id: id, invoker: invoker}
}

func (a *AnalysisAgent) ID() string { return a.id }

// Run executes extract -> analyze -> summarize against st. The task payload is
// expected under the "payload" data key, as placed there by the runner.
func (a *AnalysisAgent) Run(ctx context.Context, st *State) error {
	if err := st.Checkpoint(ctx, "extract"); err != nil {
		return err
	}
	raw, ok := st.Get("payload")
	if !ok {
		return fmt.Errorf("state missing payload")
	}
	var payload ingest.TaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	st.Set("tribunal", payload.Record.Tribunal)
	st.Set("process_number", payload.Record.ProcessNumber)
	st.Set("match_type", string(payload.MatchType))
	st.AppendMessage("extracted communication %s from %s (match: %s)",
		payload.Record.CommunicationID, payload.Record.Tribunal, payload.MatchType)

	if err := st.Checkpoint(ctx, "analyze"); err != nil {
		return err
	}
	prompt := buildAnalysisPrompt(payload)
	analysis, err := a.invoker.Invoke(ctx, prompt, llm.Options{
		SystemInstruction: analysisSystemPrompt,
		Temperature:       0.2,
	})
	if err != nil {
		return fmt.Errorf("analyze communication: %w", err)
	}
	st.Set("analysis", analysis)
	st.AppendMessage("analysis produced (%d chars)", len(analysis))

	if err := st.Checkpoint(ctx, "summarize"); err != nil {
		return err
	}
	summary, err := a.invoker.Invoke(ctx,
		"Summarize the following analysis in at most three sentences:\n\n"+analysis,
		llm.Options{SystemInstruction: analysisSystemPrompt, Temperature: 0.1},
	)
	if err != nil {
		return fmt.Errorf("summarize analysis: %w", err)
	}
	st.Set("summary", summary)
	st.AppendMessage("summary produced")
	st.Completed = true
	return nil
}

func buildAnalysisPrompt(p ingest.TaskPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monitored professional: %s (registration %s)\n",
		p.Identity.Name, p.Identity.Registration)
	fmt.Fprintf(&b, "Tribunal: %s\nProcess: %s\nPublished: %s\nMatched by: %s\n\n",
		p.Record.Tribunal, p.Record.ProcessNumber,
		p.Record.PublishedAt.Format("2006-01-02"), p.MatchType)
	b.WriteString("Communication content:\n")
	b.WriteString(p.Record.Content)
	b.WriteString("\n\nExplain what this communication requires of the professional, " +
		"including any deadline it imposes.")
	return b.String()
}
