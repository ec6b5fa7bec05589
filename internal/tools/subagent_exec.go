package tools

// ChildToolNames computes a sub-agent's tool set from its parent's active
// tools (spec §4.5.7: "inherits the parent's tools, optionally filtered by
// a name list in the args ... receives ask_parent instead of ask_user").
// requested, if non-empty, restricts the child to that subset of
// parentTools; sub_agent is always excluded regardless of request, since
// a child can never itself spawn a grandchild (depth-1-only). Grounded on
// goclaw's tools/subagent_exec.go SubagentDenyAlways/SubagentDenyLeaf
// deny-list pattern, simplified to the single always-denied name the spec
// actually requires.
func ChildToolNames(parentTools []string, requested []string) []string {
	allowed := make(map[string]bool, len(parentTools))
	for _, name := range parentTools {
		allowed[name] = true
	}

	var base []string
	if len(requested) > 0 {
		for _, name := range requested {
			if allowed[name] {
				base = append(base, name)
			}
		}
	} else {
		base = append(base, parentTools...)
	}

	out := make([]string, 0, len(base)+1)
	hasAskParent := false
	for _, name := range base {
		switch name {
		case "sub_agent", "ask_user":
			continue
		case "ask_parent":
			hasAskParent = true
			out = append(out, name)
		default:
			out = append(out, name)
		}
	}
	if !hasAskParent {
		out = append(out, "ask_parent")
	}
	return out
}
