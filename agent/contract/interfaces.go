package contract

import "context"

// CompletionService is the narrow RPC boundary to the hosted model.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// DomainAgent is a specialist worker for one capability area. Run never
// returns an error: every failure below the agent is folded into a
// DomainResult with Success=false so the coordinator can merge partial
// outcomes without a try/catch boundary.
type DomainAgent interface {
	Name() string
	Capabilities() []string
	Run(ctx context.Context, req QueryRequest, identity Identity) DomainResult
}

// PluginResolver maps a tenant's enabled integrations to the tool
// bundles whose capabilities intersect the requested set.
type PluginResolver interface {
	Resolve(ctx context.Context, tenantID string, capabilities []string) (Resolution, error)
}

// ConfigStore exposes a tenant's enabled integration keys.
type ConfigStore interface {
	GetEnabledIntegrations(ctx context.Context, tenantID string) ([]string, error)
}

// CredentialStore exposes per-integration credentials. The boolean is
// false when the tenant has no credential for the integration.
type CredentialStore interface {
	GetCredentials(ctx context.Context, tenantID, integrationKey string) (Credential, bool, error)
}
