package contract

import (
	"context"
	"time"
)

// AgentName identifies one worker (or the coordinator) in responses,
// logs, and model configuration.
type AgentName string

const (
	AgentCoordinator AgentName = "coordinator"
	AgentFuel        AgentName = "fuel"
	AgentMaintenance AgentName = "maintenance"
	AgentSafety      AgentName = "safety"
)

// DomainGeneral is the fallback classification target when no domain
// vocabulary matches. No agent is registered for it by default.
const DomainGeneral = "general"

// Capability tags. Opaque strings matched by set intersection between
// agent declarations and plugin descriptors; no hierarchy.
const (
	CapFuel           = "fuel"
	CapEfficiency     = "efficiency"
	CapCostAnalysis   = "cost-analysis"
	CapMaintenance    = "maintenance"
	CapDiagnostics    = "diagnostics"
	CapScheduling     = "scheduling"
	CapSafety         = "safety"
	CapDriverBehavior = "driver-behavior"
	CapCompliance     = "compliance"
	CapLocation       = "location"
)

// Tier names a tenant's subscription level; quota ceilings derive from it.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Identity describes the authenticated caller for the lifetime of one
// request. It is built once from the presented credential and never
// persisted.
type Identity struct {
	TenantID    string   `json:"tenant_id"`
	KeyID       string   `json:"key_id"`
	Scopes      []string `json:"scopes"`
	Environment string   `json:"environment"`
	Tier        Tier     `json:"tier"`
}

func (id Identity) HasScope(permissionID string) bool {
	for _, s := range id.Scopes {
		if s == permissionID {
			return true
		}
	}
	return false
}

// Permission is a statically enumerated grant.
type Permission struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Elevated bool   `json:"elevated"`
}

type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// QueryRequest is the inbound fleet query payload.
type QueryRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []ChatTurn     `json:"conversationHistory,omitempty"`
	Context             map[string]any `json:"context,omitempty"`
}

// QueryResponse is assembled once by the coordinator at the end of a
// request. AgentsUsed and the keys of AgentData correspond one to one.
type QueryResponse struct {
	Response         string         `json:"response"`
	AgentData        map[string]any `json:"agentData"`
	AgentsUsed       []string       `json:"agentsUsed"`
	Warnings         []string       `json:"warnings,omitempty"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	Timestamp        time.Time      `json:"timestamp"`
}

// DomainResult is the settled outcome of one domain agent invocation.
// It is produced exactly once per call and never mutated after return.
type DomainResult struct {
	Agent    string         `json:"agent"`
	Success  bool           `json:"success"`
	Answer   string         `json:"answer"`
	Data     map[string]any `json:"data,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// ToolSpec describes one callable tool in a completion manifest.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
}

type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ToolInvocation is a tool call requested by the completion model.
type ToolInvocation struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type CompletionRequest struct {
	SystemPrompt string     `json:"system_prompt"`
	History      []ChatTurn `json:"history,omitempty"`
	UserMessage  string     `json:"user_message"`
	Tools        []ToolSpec `json:"tools,omitempty"`
}

type Completion struct {
	Text            string           `json:"text"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
}

// Credential holds per-integration secrets for one tenant.
type Credential map[string]string

// ToolExec runs one tool from a resolved bundle.
// A failed tool call is reported through the error; the caller decides
// whether that degrades or aborts its own work.
type ToolExec func(ctx context.Context, tool string, args map[string]any) (any, error)

// ToolBundle is the per-tenant callable surface produced by one plugin
// descriptor. Bundles are built per request and carry no shared state.
type ToolBundle struct {
	Integration string
	Tools       []ToolSpec
	Exec        ToolExec
}

// Resolution is the outcome of matching a capability set against a
// tenant's enabled integrations. Per-plugin failures surface as
// warnings, never as an error.
type Resolution struct {
	Bundles  []ToolBundle
	Warnings []string
}

// ToolSpecs flattens the tool manifests of every resolved bundle,
// preserving bundle order.
func (r Resolution) ToolSpecs() []ToolSpec {
	var specs []ToolSpec
	for _, b := range r.Bundles {
		specs = append(specs, b.Tools...)
	}
	return specs
}
