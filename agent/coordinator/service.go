package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	logx "github.com/kwkraus/fleet-assistant/pkg/logger"
)

const defaultWorkerTimeout = 30 * time.Second

// graphState flows through the request pipeline: Received →
// Classifying → Dispatching → AwaitingWorkers → Synthesizing →
// Completed.
type graphState struct {
	Req      contractx.QueryRequest
	Identity contractx.Identity
	Start    time.Time

	Domains        []string
	Rationale      string
	FallbackAnswer string
	Fatal          bool

	Results  []contractx.DomainResult
	Warnings []string
	Answer   string
}

type graphInput struct {
	Req      contractx.QueryRequest
	Identity contractx.Identity
}

// Coordinator classifies an inbound query, fans it out to the matching
// domain agents, and synthesizes their partial results into one
// response. It holds no per-request state; one instance serves all
// tenants.
type Coordinator struct {
	agents        map[string]contractx.DomainAgent
	completion    contractx.CompletionService
	prompts       Prompts
	workerTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger

	graphRunner compose.Runnable[graphInput, contractx.QueryResponse]
}

// Prompts are the coordinator's own system prompts.
type Prompts struct {
	Classify   string
	Synthesize string
}

type Option func(*Coordinator)

func WithWorkerTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.workerTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(completion contractx.CompletionService, prompts Prompts, agents []contractx.DomainAgent, opts ...Option) (*Coordinator, error) {
	if completion == nil {
		return nil, errors.New("completion service is required")
	}
	if strings.TrimSpace(prompts.Classify) == "" || strings.TrimSpace(prompts.Synthesize) == "" {
		return nil, errors.New("coordinator prompts are required")
	}

	byName := make(map[string]contractx.DomainAgent, len(agents))
	for _, agent := range agents {
		if agent == nil {
			continue
		}
		name := agent.Name()
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate agent name=%s", name)
		}
		byName[name] = agent
	}

	c := &Coordinator{
		agents:        byName,
		completion:    completion,
		prompts:       prompts,
		workerTimeout: defaultWorkerTimeout,
		now:           time.Now,
		log:           logx.Component("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}

	graphRunner, err := c.compileQueryGraph(context.Background())
	if err != nil {
		return nil, err
	}
	c.graphRunner = graphRunner

	return c, nil
}

// HandleQuery runs one request through the pipeline. The only error it
// returns is request validation; everything past validation degrades
// into a structured QueryResponse.
func (c *Coordinator) HandleQuery(ctx context.Context, req contractx.QueryRequest, identity contractx.Identity) (contractx.QueryResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return contractx.QueryResponse{}, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}
	return c.graphRunner.Invoke(ctx, graphInput{Req: req, Identity: identity})
}

// classify maps the message to target domains with the keyword
// vocabulary and asks the completion service for a routing rationale
// plus a provisional general answer. The completion call is the only
// fatal path in the pipeline: without it there is no fallback text, so
// the request degrades to a synthetic failure result.
func (c *Coordinator) classify(ctx context.Context, st *graphState) {
	st.Domains = classifyDomains(st.Req.Message)
	st.Rationale = fmt.Sprintf("keyword match selected domains: %s", strings.Join(st.Domains, ", "))

	completion, err := c.completion.Complete(ctx, contractx.CompletionRequest{
		SystemPrompt: c.prompts.Classify,
		History:      st.Req.ConversationHistory,
		UserMessage:  st.Req.Message,
	})
	if err != nil {
		c.log.Error().Err(err).Str("tenant_id", st.Identity.TenantID).Msg("classification completion failed")
		st.Fatal = true
		st.Warnings = append(st.Warnings, "classification failed; no specialist could be selected")
		return
	}
	st.FallbackAnswer = strings.TrimSpace(completion.Text)
}

// synthesize turns the settled worker results into the final answer.
func (c *Coordinator) synthesize(ctx context.Context, st *graphState) {
	if st.Fatal {
		st.Answer = "The fleet assistant could not process this request. Please try again."
		return
	}

	var fragments []string
	for _, res := range st.Results {
		if res.Success && strings.TrimSpace(res.Answer) != "" {
			fragments = append(fragments, fmt.Sprintf("[%s]\n%s", res.Agent, res.Answer))
		}
	}

	if len(fragments) == 0 {
		st.Answer = st.FallbackAnswer
		st.Warnings = append(st.Warnings, "no specialist data was available")
		return
	}

	userMessage := fmt.Sprintf(
		"Original question:\n%s\n\nRouting rationale: %s\n\nSpecialist fragments:\n%s",
		st.Req.Message, st.Rationale, strings.Join(fragments, "\n\n"),
	)
	completion, err := c.completion.Complete(ctx, contractx.CompletionRequest{
		SystemPrompt: c.prompts.Synthesize,
		UserMessage:  userMessage,
	})
	if err != nil || strings.TrimSpace(completion.Text) == "" {
		if err != nil {
			c.log.Warn().Err(err).Msg("synthesis completion failed; joining fragments")
		}
		st.Answer = strings.Join(fragments, "\n\n")
		st.Warnings = append(st.Warnings, "answer synthesis was unavailable; returning specialist answers as-is")
		return
	}
	st.Answer = strings.TrimSpace(completion.Text)
}

// finalize assembles the response. AgentsUsed and the keys of
// AgentData stay in lockstep: every merged worker gets both entries,
// and the coordinator adds its own.
func (c *Coordinator) finalize(st *graphState) contractx.QueryResponse {
	agentData := map[string]any{
		string(contractx.AgentCoordinator): map[string]any{
			"domains":   st.Domains,
			"rationale": st.Rationale,
		},
	}
	agentsUsed := []string{}
	for _, res := range st.Results {
		if !res.Success {
			continue
		}
		data := map[string]any{"answer": res.Answer}
		for k, v := range res.Data {
			data[k] = v
		}
		agentData[res.Agent] = data
		agentsUsed = append(agentsUsed, res.Agent)
	}
	agentsUsed = append(agentsUsed, string(contractx.AgentCoordinator))

	now := c.now()
	return contractx.QueryResponse{
		Response:         st.Answer,
		AgentData:        agentData,
		AgentsUsed:       agentsUsed,
		Warnings:         dedupeWarnings(st.Warnings),
		ProcessingTimeMs: now.Sub(st.Start).Milliseconds(),
		Timestamp:        now,
	}
}

func dedupeWarnings(warnings []string) []string {
	if len(warnings) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(warnings))
	var out []string
	for _, w := range warnings {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
