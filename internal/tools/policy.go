package tools

import (
	"log/slog"
	"strings"
)

// toolGroups map group names to tool names for "group:xxx" expansion in
// deny/also-allow lists. Far smaller than a managed multi-tenant control
// plane needs — just the families this single-agent runtime actually
// ships.
var toolGroups = map[string][]string{
	"memory":  {"remember_fact", "recall"},
	"web":     {"read_url"},
	"notes":   {"set_note", "get_notes"},
	"runtime": {"exec"},
}

// RegisterToolGroup adds or replaces a dynamic tool group, used by the MCP
// loader to register a "mcp:{serverName}" group as servers connect.
func RegisterToolGroup(name string, members []string) {
	toolGroups[name] = members
}

// UnregisterToolGroup removes a dynamic tool group.
func UnregisterToolGroup(name string) {
	delete(toolGroups, name)
}

// PolicyConfig is the resolved, already-defaulted configuration the
// selection algorithm reads. It is deliberately independent of the config
// package's on-disk shape so the tools package has no import-time
// dependency on config parsing.
type PolicyConfig struct {
	// EnableRestricted gates restricted-tier tools for operators.
	EnableRestricted bool
	// EnableDangerous gates dangerous-tier tools for operators.
	EnableDangerous bool
	// DangerousAllowAll, when true, admits every dangerous tool once
	// EnableDangerous is set, bypassing DangerousAllowlist.
	DangerousAllowAll bool
	// DangerousAllowlist names (or "group:xxx" specs) of dangerous tools
	// an operator may use when DangerousAllowAll is false.
	DangerousAllowlist []string
	// Deny removes tools (or groups) from the final selection
	// unconditionally, applied after tier/effect gating.
	Deny []string
	// AlsoAllow adds tools (or groups) back after Deny, for operators who
	// want to re-enable one specific denied tool.
	AlsoAllow []string
}

// PolicyEngine selects the tool set visible to a turn.
type PolicyEngine struct {
	cfg PolicyConfig
}

// NewPolicyEngine builds a policy engine from a resolved configuration.
func NewPolicyEngine(cfg PolicyConfig) *PolicyEngine {
	return &PolicyEngine{cfg: cfg}
}

// SelectTools returns the tools a turn from isOperator may see, per the
// tier/effect selection algorithm: safe tools are always included;
// restricted tools require an operator and EnableRestricted; dangerous
// tools require an operator, EnableDangerous, and either DangerousAllowAll
// or explicit allowlisting. Non-operators additionally lose any tool whose
// effects include filesystem or subprocess, regardless of tier.
func (pe *PolicyEngine) SelectTools(registry *Registry, isOperator bool) []ToolDef {
	allNames := registry.List()
	dangerousAllowed := expandNames(allNames, pe.cfg.DangerousAllowlist)

	var selected []string
	for _, name := range allNames {
		tool, ok := registry.Get(name)
		if !ok {
			continue
		}
		if !pe.tierAllowed(tool, isOperator, dangerousAllowed) {
			continue
		}
		if !isOperator && (tool.hasEffect(EffectFilesystem) || tool.hasEffect(EffectSubprocess)) {
			continue
		}
		selected = append(selected, name)
	}

	if len(pe.cfg.Deny) > 0 {
		selected = subtractSpec(selected, pe.cfg.Deny)
	}
	if len(pe.cfg.AlsoAllow) > 0 && isOperator {
		selected = unionWithSpec(selected, allNames, pe.cfg.AlsoAllow)
	}

	defs := make([]ToolDef, 0, len(selected))
	for _, name := range selected {
		if tool, ok := registry.Get(name); ok {
			defs = append(defs, tool)
		}
	}

	slog.Debug("tool policy applied",
		"is_operator", isOperator,
		"total_tools", len(allNames),
		"selected", len(defs),
	)
	return defs
}

func (pe *PolicyEngine) tierAllowed(tool ToolDef, isOperator bool, dangerousAllowed map[string]bool) bool {
	switch tool.Tier {
	case TierSafe:
		return true
	case TierRestricted:
		return isOperator && pe.cfg.EnableRestricted
	case TierDangerous:
		if !isOperator || !pe.cfg.EnableDangerous {
			return false
		}
		return pe.cfg.DangerousAllowAll || dangerousAllowed[tool.Name]
	default:
		return false
	}
}

// --- set operations with group expansion, reused from the allowlist
// matching the teacher's profile pipeline used for its "group:xxx" specs ---

func expandNames(available []string, spec []string) map[string]bool {
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			groupName := strings.TrimPrefix(s, "group:")
			if members, ok := toolGroups[groupName]; ok {
				for _, m := range members {
					expanded[m] = true
				}
			}
			continue
		}
		expanded[s] = true
	}
	return expanded
}

func subtractSpec(current []string, spec []string) []string {
	denied := expandNames(current, spec)
	result := make([]string, 0, len(current))
	for _, t := range current {
		if !denied[t] {
			result = append(result, t)
		}
	}
	return result
}

func unionWithSpec(current []string, allTools []string, spec []string) []string {
	existing := make(map[string]bool, len(current))
	for _, t := range current {
		existing[t] = true
	}
	toAdd := expandNames(allTools, spec)
	for _, t := range allTools {
		if toAdd[t] && !existing[t] {
			current = append(current, t)
			existing[t] = true
		}
	}
	return current
}
