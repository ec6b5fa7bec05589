package tools

// PolicyEngine computes the active tool set (spec §4.5.8): registered
// tools minus feature-gated tools minus config.tools.disabled, with
// sub-agents additionally subtracting ask_user and adding ask_parent.
// Generalized from goclaw's internal/tools/policy.go, which layers
// groups/profiles/aliases/deny-lists on top of the same subtract-from-allowed
// shape; this version keeps only the subset the spec actually names.
type PolicyEngine struct {
	// Disabled is the config-level tools.disabled list.
	Disabled map[string]bool

	// SubAgentFeatureEnabled gates whether sub_agent is offered at all.
	SubAgentFeatureEnabled bool

	// SkillsLoaded gates whether use_skill is offered.
	SkillsLoaded bool
}

// NewPolicyEngine builds a PolicyEngine from a disabled-tool list.
func NewPolicyEngine(disabled []string) *PolicyEngine {
	m := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		m[name] = true
	}
	return &PolicyEngine{Disabled: m, SubAgentFeatureEnabled: true, SkillsLoaded: false}
}

// ActiveToolSet filters registry's tools for one session. For a sub-agent
// session it drops ask_user and sub_agent and keeps ask_parent when
// ask_parent is registered; for a top-level session it drops ask_parent.
func (p *PolicyEngine) ActiveToolSet(registry *Registry, isSubAgent bool) []string {
	var out []string
	for _, name := range registry.Names() {
		if p.Disabled[name] {
			continue
		}
		if name == "sub_agent" && (!p.SubAgentFeatureEnabled || isSubAgent) {
			// depth-1-only: a sub-agent's tool set must never include
			// sub_agent itself (spec §4.5.7).
			continue
		}
		if name == "use_skill" && !p.SkillsLoaded {
			continue
		}
		if name == "ask_user" && isSubAgent {
			continue
		}
		if name == "ask_parent" && !isSubAgent {
			continue
		}
		out = append(out, name)
	}
	return out
}
