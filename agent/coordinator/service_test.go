package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

const (
	testClassifyPrompt   = "route fleet questions"
	testSynthesizePrompt = "merge specialist answers"
)

// stubCompletion keys its behavior on which system prompt is in play so
// classification and synthesis can fail independently.
type stubCompletion struct {
	classifyText string
	classifyErr  error

	synthesizeText string
	synthesizeErr  error
}

func (s *stubCompletion) Complete(_ context.Context, req contractx.CompletionRequest) (contractx.Completion, error) {
	switch req.SystemPrompt {
	case testClassifyPrompt:
		if s.classifyErr != nil {
			return contractx.Completion{}, s.classifyErr
		}
		return contractx.Completion{Text: s.classifyText}, nil
	case testSynthesizePrompt:
		if s.synthesizeErr != nil {
			return contractx.Completion{}, s.synthesizeErr
		}
		return contractx.Completion{Text: s.synthesizeText}, nil
	}
	return contractx.Completion{}, errors.New("unexpected system prompt")
}

type stubAgent struct {
	name   string
	result contractx.DomainResult
	panics bool
	delay  time.Duration
}

func (s *stubAgent) Name() string           { return s.name }
func (s *stubAgent) Capabilities() []string { return []string{"test"} }
func (s *stubAgent) Run(ctx context.Context, _ contractx.QueryRequest, _ contractx.Identity) contractx.DomainResult {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return contractx.DomainResult{Agent: s.name, Success: false}
		}
	}
	res := s.result
	res.Agent = s.name
	return res
}

func okAgent(name, answer string) *stubAgent {
	return &stubAgent{name: name, result: contractx.DomainResult{Success: true, Answer: answer}}
}

func failedAgent(name string) *stubAgent {
	return &stubAgent{name: name, result: contractx.DomainResult{
		Success:  false,
		Warnings: []string{name + ": completion call failed"},
	}}
}

func newTestCoordinator(t *testing.T, completion contractx.CompletionService, agents []contractx.DomainAgent, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(completion, Prompts{Classify: testClassifyPrompt, Synthesize: testSynthesizePrompt}, agents, opts...)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

// agentsUsed and the agentData keys must describe the same set.
func assertAgentSetsMatch(t *testing.T, resp contractx.QueryResponse) {
	t.Helper()
	if len(resp.AgentsUsed) != len(resp.AgentData) {
		t.Fatalf("agentsUsed %v vs agentData keys %v", resp.AgentsUsed, resp.AgentData)
	}
	for _, name := range resp.AgentsUsed {
		if _, ok := resp.AgentData[name]; !ok {
			t.Fatalf("agent %s in agentsUsed but missing from agentData %v", name, resp.AgentData)
		}
	}
}

func TestHandleQueryFuelScenario(t *testing.T) {
	completion := &stubCompletion{
		classifyText:   "general fallback",
		synthesizeText: "Vehicle ABC123 averages 8.2 MPG, slightly below fleet median.",
	}
	fuel := okAgent(string(contractx.AgentFuel), "ABC123: 8.2 MPG over 30 days")
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{fuel})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "What's the fuel efficiency of vehicle ABC123?",
		Context: map[string]any{"vehicleId": "ABC123"},
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if !strings.Contains(resp.Response, "8.2 MPG") {
		t.Fatalf("response = %q", resp.Response)
	}
	want := []string{string(contractx.AgentFuel), string(contractx.AgentCoordinator)}
	if len(resp.AgentsUsed) != 2 || resp.AgentsUsed[0] != want[0] || resp.AgentsUsed[1] != want[1] {
		t.Fatalf("agentsUsed = %v, want %v", resp.AgentsUsed, want)
	}
	assertAgentSetsMatch(t, resp)
	if resp.ProcessingTimeMs < 0 {
		t.Fatalf("processingTimeMs = %d", resp.ProcessingTimeMs)
	}
	if resp.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestHandleQueryPartialFailure(t *testing.T) {
	completion := &stubCompletion{
		classifyText:   "general fallback",
		synthesizeText: "Fuel data is in; maintenance data was unavailable.",
	}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{
		okAgent(string(contractx.AgentFuel), "fuel answer"),
		failedAgent(string(contractx.AgentMaintenance)),
	})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "Compare fuel spend against brake repair costs",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if len(resp.AgentsUsed) != 2 {
		t.Fatalf("agentsUsed = %v, want fuel + coordinator", resp.AgentsUsed)
	}
	if _, ok := resp.AgentData[string(contractx.AgentMaintenance)]; ok {
		t.Fatal("failed agent must not appear in agentData")
	}
	assertAgentSetsMatch(t, resp)
	if len(resp.Warnings) == 0 {
		t.Fatal("expected a warning for the failed worker")
	}
}

func TestHandleQueryAllWorkersFail(t *testing.T) {
	completion := &stubCompletion{classifyText: "best-effort general answer"}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{failedAgent(string(contractx.AgentFuel))})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "fuel usage this week?",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if resp.Response != "best-effort general answer" {
		t.Fatalf("response = %q, want classification fallback", resp.Response)
	}
	if len(resp.AgentsUsed) != 1 || resp.AgentsUsed[0] != string(contractx.AgentCoordinator) {
		t.Fatalf("agentsUsed = %v", resp.AgentsUsed)
	}
	assertAgentSetsMatch(t, resp)
}

func TestHandleQueryNoSpecialistMatch(t *testing.T) {
	completion := &stubCompletion{classifyText: "I can help with fleet operations questions."}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{okAgent(string(contractx.AgentFuel), "unused")})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "Tell me a joke",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if resp.Response != "I can help with fleet operations questions." {
		t.Fatalf("response = %q", resp.Response)
	}
	if !hasWarning(resp.Warnings, "no specialist matched the request") {
		t.Fatalf("warnings = %v", resp.Warnings)
	}
	assertAgentSetsMatch(t, resp)
}

func TestHandleQueryClassificationFailure(t *testing.T) {
	completion := &stubCompletion{classifyErr: errors.New("upstream 500")}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{okAgent(string(contractx.AgentFuel), "unused")})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "fuel report please",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("degraded response should not be an error: %v", err)
	}

	if resp.Response == "" {
		t.Fatal("degraded response must still carry text")
	}
	if len(resp.AgentsUsed) != 1 || resp.AgentsUsed[0] != string(contractx.AgentCoordinator) {
		t.Fatalf("agentsUsed = %v, workers must not run after a fatal classify", resp.AgentsUsed)
	}
	if !hasWarning(resp.Warnings, "classification failed; no specialist could be selected") {
		t.Fatalf("warnings = %v", resp.Warnings)
	}
	assertAgentSetsMatch(t, resp)
}

func TestHandleQuerySynthesisFailureJoinsFragments(t *testing.T) {
	completion := &stubCompletion{
		classifyText:  "general fallback",
		synthesizeErr: errors.New("upstream 500"),
	}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{
		okAgent(string(contractx.AgentFuel), "fuel answer"),
		okAgent(string(contractx.AgentMaintenance), "maintenance answer"),
	})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "fuel and brake status",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if !strings.Contains(resp.Response, "fuel answer") || !strings.Contains(resp.Response, "maintenance answer") {
		t.Fatalf("response = %q, want joined fragments", resp.Response)
	}
	if !hasWarning(resp.Warnings, "answer synthesis was unavailable; returning specialist answers as-is") {
		t.Fatalf("warnings = %v", resp.Warnings)
	}
	if len(resp.AgentsUsed) != 3 {
		t.Fatalf("agentsUsed = %v", resp.AgentsUsed)
	}
	assertAgentSetsMatch(t, resp)
}

func TestHandleQueryWorkerPanicIsContained(t *testing.T) {
	completion := &stubCompletion{
		classifyText:   "general fallback",
		synthesizeText: "fuel numbers are in",
	}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{
		okAgent(string(contractx.AgentFuel), "fuel answer"),
		&stubAgent{name: string(contractx.AgentMaintenance), panics: true},
	})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "fuel and service history",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if !hasWarning(resp.Warnings, "maintenance: worker failed unexpectedly") {
		t.Fatalf("warnings = %v", resp.Warnings)
	}
	if len(resp.AgentsUsed) != 2 {
		t.Fatalf("agentsUsed = %v", resp.AgentsUsed)
	}
	assertAgentSetsMatch(t, resp)
}

func TestHandleQueryWorkerTimeout(t *testing.T) {
	completion := &stubCompletion{classifyText: "general fallback"}
	slow := &stubAgent{name: string(contractx.AgentFuel), delay: time.Second}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{slow}, WithWorkerTimeout(10*time.Millisecond))

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{
		Message: "fuel report",
	}, contractx.Identity{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	if !hasWarning(resp.Warnings, "fuel: worker timed out") {
		t.Fatalf("warnings = %v", resp.Warnings)
	}
	if len(resp.AgentsUsed) != 1 || resp.AgentsUsed[0] != string(contractx.AgentCoordinator) {
		t.Fatalf("agentsUsed = %v", resp.AgentsUsed)
	}
}

func TestHandleQueryEmptyMessage(t *testing.T) {
	completion := &stubCompletion{}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{okAgent(string(contractx.AgentFuel), "unused")})

	_, err := c.HandleQuery(context.Background(), contractx.QueryRequest{Message: "   "}, contractx.Identity{})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestHandleQueryDedupesWarnings(t *testing.T) {
	completion := &stubCompletion{classifyText: "fallback"}
	c := newTestCoordinator(t, completion, []contractx.DomainAgent{
		&stubAgent{name: string(contractx.AgentFuel), result: contractx.DomainResult{
			Success:  false,
			Warnings: []string{"shared warning", "shared warning"},
		}},
	})

	resp, err := c.HandleQuery(context.Background(), contractx.QueryRequest{Message: "fuel"}, contractx.Identity{})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}

	count := 0
	for _, w := range resp.Warnings {
		if w == "shared warning" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("warnings = %v, want deduped", resp.Warnings)
	}
}

func TestNewRejectsDuplicateAgents(t *testing.T) {
	completion := &stubCompletion{}
	_, err := New(completion, Prompts{Classify: testClassifyPrompt, Synthesize: testSynthesizePrompt},
		[]contractx.DomainAgent{okAgent("fuel", "a"), okAgent("fuel", "b")})
	if err == nil {
		t.Fatal("duplicate agent names must be rejected")
	}
}

func hasWarning(warnings []string, want string) bool {
	for _, w := range warnings {
		if w == want {
			return true
		}
	}
	return false
}
