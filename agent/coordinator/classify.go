package coordinator

import (
	"strings"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

// Domain vocabulary for the deterministic keyword classifier. Matching
// is case-insensitive substring presence; a message can hit several
// domains, and zero hits fall back to the general domain.
var domainVocabulary = map[string][]string{
	string(contractx.AgentFuel): {
		"fuel", "mpg", "efficiency", "gas", "diesel", "fill-up", "fillup",
		"consumption", "idling",
	},
	string(contractx.AgentMaintenance): {
		"maintenance", "service", "repair", "oil change", "tire", "brake",
		"inspection", "fault", "diagnostic", "odometer",
	},
	string(contractx.AgentSafety): {
		"safety", "driver", "accident", "incident", "harsh", "speeding",
		"compliance", "collision", "location", "where is",
	},
}

// classifierOrder keeps domain selection deterministic across runs.
var classifierOrder = []string{
	string(contractx.AgentFuel),
	string(contractx.AgentMaintenance),
	string(contractx.AgentSafety),
}

// classifyDomains maps a free-text message to its target domains.
func classifyDomains(message string) []string {
	lower := strings.ToLower(message)

	var domains []string
	for _, domain := range classifierOrder {
		for _, keyword := range domainVocabulary[domain] {
			if strings.Contains(lower, keyword) {
				domains = append(domains, domain)
				break
			}
		}
	}
	if len(domains) == 0 {
		domains = append(domains, contractx.DomainGeneral)
	}
	return domains
}
