package statemachine

import "strings"

// InferPriority maps agent identity to a review priority via an
// explicit, documented table rather than an implicit heuristic. Set
// once at creation and immutable thereafter.
//
//   - planner-authored or plan-phase reviews are critical: a stuck plan
//     review blocks everything downstream of it.
//   - verifier-authored or verification-category reviews are low: they
//     confirm work already reviewed once, not first-pass changes.
//   - everything else is normal.
func InferPriority(agentType, agentRole, phase, category string) string {
	agentType = strings.ToLower(strings.TrimSpace(agentType))
	agentRole = strings.ToLower(strings.TrimSpace(agentRole))
	phase = strings.ToLower(strings.TrimSpace(phase))
	category = strings.ToLower(strings.TrimSpace(category))

	if agentRole == "planner" || phase == "plan" {
		return "critical"
	}
	if strings.Contains(agentType, "verifier") || category == "verification" {
		return "low"
	}
	return "normal"
}
