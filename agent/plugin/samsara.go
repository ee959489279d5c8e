package plugin

import (
	"context"
	"fmt"
	"net/url"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

const (
	KeySamsara         = "samsara"
	samsaraDefaultBase = "https://api.samsara.com"
)

// SamsaraDescriptor exposes Samsara telematics as safety and location
// tools. Credentials: api_token, optional base_url override.
func SamsaraDescriptor() Descriptor {
	return Descriptor{
		Key:          KeySamsara,
		Capabilities: []string{contractx.CapSafety, contractx.CapDriverBehavior, contractx.CapCompliance, contractx.CapLocation},
		Build:        buildSamsara,
	}
}

func buildSamsara(_ context.Context, tenantID string, creds contractx.Credential) (contractx.ToolBundle, error) {
	apiToken := creds["api_token"]
	if apiToken == "" {
		return contractx.ToolBundle{}, fmt.Errorf("samsara credentials incomplete for tenant=%s", tenantID)
	}

	baseURL := creds["base_url"]
	if baseURL == "" {
		baseURL = samsaraDefaultBase
	}
	client, err := newAPIClient(baseURL, apiToken, 10*time.Second)
	if err != nil {
		return contractx.ToolBundle{}, err
	}

	tools := []contractx.ToolSpec{
		{
			Name:        "samsara_get_safety_events",
			Description: "Fetch harsh driving and safety events across the fleet for a lookback window.",
			Parameters: map[string]contractx.ParamSpec{
				"days": {Type: "integer", Description: "Lookback window in days (default 7)"},
			},
		},
		{
			Name:        "samsara_get_driver_safety_score",
			Description: "Fetch the safety score and event breakdown for one driver.",
			Parameters: map[string]contractx.ParamSpec{
				"driver_id": {Type: "string", Description: "Samsara driver id", Required: true},
			},
		},
		{
			Name:        "samsara_get_vehicle_locations",
			Description: "Fetch current GPS locations for all fleet vehicles.",
		},
	}

	exec := func(ctx context.Context, tool string, args map[string]any) (any, error) {
		switch tool {
		case "samsara_get_safety_events":
			days := argInt(args, "days", 7)
			query := url.Values{}
			query.Set("startTime", time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339))
			return client.getJSON(ctx, "/fleet/safety-events", query)
		case "samsara_get_driver_safety_score":
			driverID := argString(args, "driver_id")
			if driverID == "" {
				return nil, fmt.Errorf("driver_id is required")
			}
			return client.getJSON(ctx, "/v1/fleet/drivers/"+url.PathEscape(driverID)+"/safety/score", nil)
		case "samsara_get_vehicle_locations":
			return client.getJSON(ctx, "/fleet/vehicles/locations", nil)
		default:
			return nil, fmt.Errorf("unknown samsara tool %q", tool)
		}
	}

	return contractx.ToolBundle{
		Integration: KeySamsara,
		Tools:       tools,
		Exec:        exec,
	}, nil
}
