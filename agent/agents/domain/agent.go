package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	promptx "github.com/kwkraus/fleet-assistant/agent/prompt"
	logx "github.com/kwkraus/fleet-assistant/pkg/logger"
)

// WarningNoIntegrations is appended when a tenant has no tool bundles
// for the agent's capability set; the agent still answers best-effort.
const WarningNoIntegrations = "no integrations available"

// Agent is the shared domain-specialist shape. Fuel, maintenance, and
// safety workers differ only in name, capability set, and prompt.
// Run never returns an error: anything that fails below it becomes a
// DomainResult with Success=false.
type Agent struct {
	name         contractx.AgentName
	capabilities []string
	systemPrompt string
	completion   contractx.CompletionService
	resolver     contractx.PluginResolver
	log          zerolog.Logger
}

var _ contractx.DomainAgent = (*Agent)(nil)

func New(
	name contractx.AgentName,
	capabilities []string,
	systemPrompt string,
	completion contractx.CompletionService,
	resolver contractx.PluginResolver,
) (*Agent, error) {
	if strings.TrimSpace(string(name)) == "" {
		return nil, errors.New("agent name is required")
	}
	if len(capabilities) == 0 {
		return nil, errors.New("agent capability set is required")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("system prompt for agent=%s is required", name)
	}
	if completion == nil {
		return nil, errors.New("completion service is required")
	}
	if resolver == nil {
		return nil, errors.New("plugin resolver is required")
	}
	return &Agent{
		name:         name,
		capabilities: append([]string(nil), capabilities...),
		systemPrompt: systemPrompt,
		completion:   completion,
		resolver:     resolver,
		log:          logx.Component("agent." + string(name)),
	}, nil
}

func NewFuel(completion contractx.CompletionService, resolver contractx.PluginResolver) (*Agent, error) {
	return New(
		contractx.AgentFuel,
		[]string{contractx.CapFuel, contractx.CapEfficiency, contractx.CapCostAnalysis},
		promptx.LoadPromptSet().Fuel,
		completion,
		resolver,
	)
}

func NewMaintenance(completion contractx.CompletionService, resolver contractx.PluginResolver) (*Agent, error) {
	return New(
		contractx.AgentMaintenance,
		[]string{contractx.CapMaintenance, contractx.CapDiagnostics, contractx.CapScheduling},
		promptx.LoadPromptSet().Maintenance,
		completion,
		resolver,
	)
}

func NewSafety(completion contractx.CompletionService, resolver contractx.PluginResolver) (*Agent, error) {
	return New(
		contractx.AgentSafety,
		[]string{contractx.CapSafety, contractx.CapDriverBehavior, contractx.CapCompliance, contractx.CapLocation},
		promptx.LoadPromptSet().Safety,
		completion,
		resolver,
	)
}

func (a *Agent) Name() string {
	return string(a.name)
}

func (a *Agent) Capabilities() []string {
	return append([]string(nil), a.capabilities...)
}

func (a *Agent) Run(ctx context.Context, req contractx.QueryRequest, identity contractx.Identity) contractx.DomainResult {
	result := contractx.DomainResult{
		Agent: string(a.name),
		Data:  map[string]any{},
	}

	resolution, err := a.resolver.Resolve(ctx, identity.TenantID, a.capabilities)
	if err != nil {
		a.log.Warn().Err(err).Str("tenant_id", identity.TenantID).Msg("tool resolution failed")
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: tool resolution failed", a.name))
		resolution = contractx.Resolution{}
	}
	result.Warnings = append(result.Warnings, resolution.Warnings...)

	var integrations []string
	for _, b := range resolution.Bundles {
		integrations = append(integrations, b.Integration)
	}
	result.Data["integrations"] = integrations
	if len(resolution.Bundles) == 0 {
		result.Warnings = append(result.Warnings, WarningNoIntegrations)
	}

	completionReq := contractx.CompletionRequest{
		SystemPrompt: a.systemPrompt,
		History:      req.ConversationHistory,
		UserMessage:  userMessage(req),
		Tools:        resolution.ToolSpecs(),
	}

	completion, err := a.completion.Complete(ctx, completionReq)
	if err != nil {
		return a.failed(result, err)
	}

	// One tool round: execute whatever the model asked for, then let it
	// finalize with the results in hand.
	if len(completion.ToolInvocations) > 0 {
		toolResults, warnings := a.executeTools(ctx, resolution.Bundles, completion.ToolInvocations)
		result.Warnings = append(result.Warnings, warnings...)
		result.Data["tool_results"] = toolResults

		followUp := completionReq
		followUp.Tools = nil
		followUp.History = append(append([]contractx.ChatTurn(nil), completionReq.History...), contractx.ChatTurn{
			Role:    "user",
			Content: "Tool results:\n" + encodeToolResults(toolResults),
		})
		completion, err = a.completion.Complete(ctx, followUp)
		if err != nil {
			return a.failed(result, err)
		}
	}

	if strings.TrimSpace(completion.Text) == "" {
		return a.failed(result, fmt.Errorf("%w: empty answer", contractx.ErrSchemaViolation))
	}

	result.Success = true
	result.Answer = strings.TrimSpace(completion.Text)
	return result
}

func (a *Agent) failed(result contractx.DomainResult, err error) contractx.DomainResult {
	a.log.Warn().Err(err).Msg("agent run failed")
	result.Success = false
	result.Answer = ""
	reason := "completion call failed"
	if errors.Is(err, contractx.ErrUpstreamTimeout) {
		reason = "completion call timed out"
	}
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", a.name, reason))
	return result
}

func (a *Agent) executeTools(ctx context.Context, bundles []contractx.ToolBundle, invocations []contractx.ToolInvocation) (map[string]any, []string) {
	execByTool := make(map[string]contractx.ToolExec)
	for _, b := range bundles {
		for _, spec := range b.Tools {
			if _, taken := execByTool[spec.Name]; !taken {
				execByTool[spec.Name] = b.Exec
			}
		}
	}

	results := make(map[string]any, len(invocations))
	var warnings []string
	for _, inv := range invocations {
		exec, ok := execByTool[inv.Tool]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: model requested unknown tool %s", a.name, inv.Tool))
			continue
		}
		out, err := exec(ctx, inv.Tool, inv.Args)
		if err != nil {
			a.log.Warn().Err(err).Str("tool", inv.Tool).Msg("tool call failed")
			warnings = append(warnings, fmt.Sprintf("%s: tool %s failed", a.name, inv.Tool))
			continue
		}
		results[inv.Tool] = out
	}
	return results, warnings
}

func userMessage(req contractx.QueryRequest) string {
	msg := strings.TrimSpace(req.Message)
	if len(req.Context) == 0 {
		return msg
	}
	encoded, err := json.Marshal(req.Context)
	if err != nil {
		return msg
	}
	return msg + "\n\nRequest context: " + string(encoded)
}

func encodeToolResults(results map[string]any) string {
	encoded, err := json.Marshal(results)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
