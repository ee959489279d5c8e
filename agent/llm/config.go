package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	openrouterx "github.com/kwkraus/fleet-assistant/pkg/openrouter"
)

// Config carries the shared completion endpoint settings plus optional
// per-agent model overrides. A temperature of -1 means "use the default".
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int64         `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	CoordinatorModel       string  `envconfig:"COORDINATOR_MODEL" split_words:"true"`
	FuelModel              string  `envconfig:"FUEL_MODEL" split_words:"true"`
	MaintenanceModel       string  `envconfig:"MAINTENANCE_MODEL" split_words:"true"`
	SafetyModel            string  `envconfig:"SAFETY_MODEL" split_words:"true"`
	CoordinatorTemperature float64 `envconfig:"COORDINATOR_TEMPERATURE" split_words:"true" default:"-1"`
	FuelTemperature        float64 `envconfig:"FUEL_TEMPERATURE" split_words:"true" default:"-1"`
	MaintenanceTemperature float64 `envconfig:"MAINTENANCE_TEMPERATURE" split_words:"true" default:"-1"`
	SafetyTemperature      float64 `envconfig:"SAFETY_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: completion api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default completion model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) baseConfig() openrouterx.Config {
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: c.MaxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// Clients builds one shared transport and binds a completion client per
// agent, honoring per-agent model and temperature overrides.
func (c Config) Clients() (map[contractx.AgentName]contractx.CompletionService, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	base, err := openrouterx.NewClient(c.baseConfig())
	if err != nil {
		return nil, err
	}

	overrides := map[contractx.AgentName]struct {
		model string
		temp  float64
	}{
		contractx.AgentCoordinator: {c.CoordinatorModel, c.CoordinatorTemperature},
		contractx.AgentFuel:        {c.FuelModel, c.FuelTemperature},
		contractx.AgentMaintenance: {c.MaintenanceModel, c.MaintenanceTemperature},
		contractx.AgentSafety:      {c.SafetyModel, c.SafetyTemperature},
	}

	clients := make(map[contractx.AgentName]contractx.CompletionService, len(overrides))
	for agent, o := range overrides {
		clients[agent] = base.WithModel(o.model, o.temp)
	}
	return clients, nil
}
