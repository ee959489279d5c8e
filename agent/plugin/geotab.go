package plugin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

const (
	KeyGeotab         = "geotab"
	geotabDefaultBase = "https://my.geotab.com/apiv1"
)

// GeotabDescriptor exposes GeoTab telematics as fuel, maintenance, and
// location tools. Credentials: database, username, password, and an
// optional base_url override.
func GeotabDescriptor() Descriptor {
	return Descriptor{
		Key:          KeyGeotab,
		Capabilities: []string{contractx.CapFuel, contractx.CapEfficiency, contractx.CapMaintenance, contractx.CapLocation},
		Build:        buildGeotab,
	}
}

func buildGeotab(_ context.Context, tenantID string, creds contractx.Credential) (contractx.ToolBundle, error) {
	database := creds["database"]
	username := creds["username"]
	password := creds["password"]
	if database == "" || username == "" || password == "" {
		return contractx.ToolBundle{}, fmt.Errorf("geotab credentials incomplete for tenant=%s", tenantID)
	}

	baseURL := creds["base_url"]
	if baseURL == "" {
		baseURL = geotabDefaultBase
	}
	client, err := newAPIClient(baseURL, "", 10*time.Second)
	if err != nil {
		return contractx.ToolBundle{}, err
	}

	session := map[string]string{
		"database": database,
		"userName": username,
		"password": password,
	}

	call := func(ctx context.Context, method string, params map[string]any) (any, error) {
		payload := map[string]any{
			"method": method,
			"params": params,
		}
		payload["params"].(map[string]any)["credentials"] = session
		return client.postJSON(ctx, "/", payload)
	}

	tools := []contractx.ToolSpec{
		{
			Name:        "geotab_get_fuel_usage",
			Description: "Fetch fuel consumption and fill-up records for a vehicle over a number of days.",
			Parameters: map[string]contractx.ParamSpec{
				"vehicle_id": {Type: "string", Description: "Fleet vehicle identifier", Required: true},
				"days":       {Type: "integer", Description: "Lookback window in days (default 30)"},
			},
		},
		{
			Name:        "geotab_get_fault_codes",
			Description: "Fetch active engine fault codes and diagnostics for a vehicle.",
			Parameters: map[string]contractx.ParamSpec{
				"vehicle_id": {Type: "string", Description: "Fleet vehicle identifier", Required: true},
			},
		},
		{
			Name:        "geotab_get_device_location",
			Description: "Fetch the last known GPS position of a vehicle.",
			Parameters: map[string]contractx.ParamSpec{
				"vehicle_id": {Type: "string", Description: "Fleet vehicle identifier", Required: true},
			},
		},
	}

	exec := func(ctx context.Context, tool string, args map[string]any) (any, error) {
		vehicleID := argString(args, "vehicle_id")
		switch tool {
		case "geotab_get_fuel_usage":
			days := argInt(args, "days", 30)
			return call(ctx, "Get", map[string]any{
				"typeName": "FuelUsed",
				"search":   map[string]any{"deviceSearch": map[string]any{"id": vehicleID}},
				"fromDate": time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339),
			})
		case "geotab_get_fault_codes":
			return call(ctx, "Get", map[string]any{
				"typeName": "FaultData",
				"search":   map[string]any{"deviceSearch": map[string]any{"id": vehicleID}},
			})
		case "geotab_get_device_location":
			return call(ctx, "Get", map[string]any{
				"typeName": "DeviceStatusInfo",
				"search":   map[string]any{"deviceSearch": map[string]any{"id": vehicleID}},
			})
		default:
			return nil, fmt.Errorf("unknown geotab tool %q", tool)
		}
	}

	return contractx.ToolBundle{
		Integration: KeyGeotab,
		Tools:       tools,
		Exec:        exec,
	}, nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
