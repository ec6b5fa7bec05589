package tools

import (
	"context"
	"fmt"
)

// DefaultSubAgentTimeout bounds how long a sub-agent may run before the
// engine treats it as failed, since spec §4.3's note that "the sub-agent
// tool uses 120s by default" for its wall-clock (unlike Shell, which has
// no hard timeout and instead checkpoints).
const DefaultSubAgentTimeout = 120 // seconds

// SubAgentEffectTag is the Outcome.Tag the Turn Engine looks for to
// recognize a sub_agent spawn request (spec §4.3: "Effect lets a tool ask
// the Turn Engine to perform a side effect ... the engine translates the
// effect into a synthetic tool result"). The actual child-session
// lifecycle — subscribing to the child's Event Bus, republishing as
// sub_agent_event, waiting for agent_end — is owned by the Turn Engine
// (spec §4.5.7), not by the tool itself: the tool only describes the
// request.
const SubAgentEffectTag = "spawn_sub_agent"

// SubAgentTool is the depth-1 fan-out tool (spec §4.5.7). It never spawns
// anything itself; it validates its arguments and hands a description of
// the spawn to the Turn Engine as an Effect outcome. Grounded on goclaw's
// tools/subagent.go (SubagentManager.Spawn) for the argument shape
// (task/label/model override) and tools/subagent_exec.go for the
// deny-list/depth rules, reworked here into the Effect hand-off pattern
// since the engine — not the tool — owns session creation.
type SubAgentTool struct{}

func (t *SubAgentTool) Name() string { return "sub_agent" }

func (t *SubAgentTool) Description(ctx context.Context) string {
	return "Spawns a child agent session to work on a sub-task, waits for it to finish, and returns its final answer."
}

func (t *SubAgentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{"type": "string", "description": "the task to hand to the child agent"},
			"label":  map[string]interface{}{"type": "string", "description": "short human-readable label for the sub-agent"},
			"model":  map[string]interface{}{"type": "string", "description": "optional model override for the child"},
			"tools": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "optional subset of the parent's tool names to grant the child; omit to inherit all",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *SubAgentTool) Meta(args map[string]interface{}) string {
	label, _ := args["label"].(string)
	if label == "" {
		label = "sub-agent"
	}
	return "spawn " + label
}

func (t *SubAgentTool) Execute(args map[string]interface{}, ec *ExecContext) Outcome {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return Err("prompt is required")
	}

	label, _ := args["label"].(string)
	model, _ := args["model"].(string)

	var toolNames []string
	if raw, ok := args["tools"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				toolNames = append(toolNames, s)
			}
		}
	}

	if contains(toolNames, "sub_agent") {
		return Err(fmt.Sprintf("sub-agents cannot be granted %q: depth-1 fan-out only", "sub_agent"))
	}

	return Effect(SubAgentEffectTag, map[string]interface{}{
		"parent_session_id": ec.SessionID,
		"parent_call_id":    ec.CallID,
		"prompt":            prompt,
		"label":             label,
		"model":             model,
		"tool_names":        toolNames,
		"timeout_seconds":   DefaultSubAgentTimeout,
	})
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
