package plugin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

const (
	KeyFleetio         = "fleetio"
	fleetioDefaultBase = "https://secure.fleetio.com/api/v1"
)

// FleetioDescriptor exposes Fleetio fleet records as fuel and
// maintenance tools. Credentials: api_token, account_token, and an
// optional base_url override.
func FleetioDescriptor() Descriptor {
	return Descriptor{
		Key:          KeyFleetio,
		Capabilities: []string{contractx.CapFuel, contractx.CapCostAnalysis, contractx.CapMaintenance, contractx.CapScheduling},
		Build:        buildFleetio,
	}
}

func buildFleetio(_ context.Context, tenantID string, creds contractx.Credential) (contractx.ToolBundle, error) {
	apiToken := creds["api_token"]
	accountToken := creds["account_token"]
	if apiToken == "" || accountToken == "" {
		return contractx.ToolBundle{}, fmt.Errorf("fleetio credentials incomplete for tenant=%s", tenantID)
	}

	baseURL := creds["base_url"]
	if baseURL == "" {
		baseURL = fleetioDefaultBase
	}
	client, err := newAPIClient(baseURL, apiToken, 10*time.Second)
	if err != nil {
		return contractx.ToolBundle{}, err
	}
	client = client.withHeader("Account-Token", accountToken)

	tools := []contractx.ToolSpec{
		{
			Name:        "fleetio_get_fuel_entries",
			Description: "Fetch recent fuel entries (gallons, cost, MPG) for a vehicle.",
			Parameters: map[string]contractx.ParamSpec{
				"vehicle_id": {Type: "string", Description: "Fleetio vehicle id or name", Required: true},
				"limit":      {Type: "integer", Description: "Maximum entries to return (default 25)"},
			},
		},
		{
			Name:        "fleetio_get_service_entries",
			Description: "Fetch completed service entries and their line items for a vehicle.",
			Parameters: map[string]contractx.ParamSpec{
				"vehicle_id": {Type: "string", Description: "Fleetio vehicle id or name", Required: true},
			},
		},
		{
			Name:        "fleetio_get_service_reminders",
			Description: "Fetch upcoming service reminders for a vehicle.",
			Parameters: map[string]contractx.ParamSpec{
				"vehicle_id": {Type: "string", Description: "Fleetio vehicle id or name", Required: true},
			},
		},
	}

	exec := func(ctx context.Context, tool string, args map[string]any) (any, error) {
		query := url.Values{}
		if vehicleID := argString(args, "vehicle_id"); vehicleID != "" {
			query.Set("q[vehicle_id_eq]", vehicleID)
		}
		switch tool {
		case "fleetio_get_fuel_entries":
			query.Set("per_page", strconv.Itoa(argInt(args, "limit", 25)))
			return client.getJSON(ctx, "/fuel_entries", query)
		case "fleetio_get_service_entries":
			return client.getJSON(ctx, "/service_entries", query)
		case "fleetio_get_service_reminders":
			return client.getJSON(ctx, "/service_reminders", query)
		default:
			return nil, fmt.Errorf("unknown fleetio tool %q", tool)
		}
	}

	return contractx.ToolBundle{
		Integration: KeyFleetio,
		Tools:       tools,
		Exec:        exec,
	}, nil
}
