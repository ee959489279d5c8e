package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/coordinator.txt
	coordinatorRaw string

	//go:embed template/synthesis.txt
	synthesisRaw string

	//go:embed template/fuel.txt
	fuelRaw string

	//go:embed template/maintenance.txt
	maintenanceRaw string

	//go:embed template/safety.txt
	safetyRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Coordinator string
	Synthesis   string
	Fuel        string
	Maintenance string
	Safety      string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// Safe to call concurrently; the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Coordinator: strings.TrimSpace(coordinatorRaw),
		Synthesis:   strings.TrimSpace(synthesisRaw),
		Fuel:        strings.TrimSpace(fuelRaw),
		Maintenance: strings.TrimSpace(maintenanceRaw),
		Safety:      strings.TrimSpace(safetyRaw),
	}
}
