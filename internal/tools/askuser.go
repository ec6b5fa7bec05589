package tools

import "context"

// AskUserEffectTag is the Outcome.Tag a top-level session's ask_user tool
// returns. The Turn Engine turns this into a blocking client/ask_user
// server→client RPC request (spec §6: "the server blocks the requesting
// tool task until the client responds") and resolves the tool call once
// the client answers.
const AskUserEffectTag = "ask_user"

// AskParentEffectTag is the Outcome.Tag a sub-agent's ask_parent tool
// returns. The Turn Engine forwards this to the parent session's Event
// Bus instead of an RPC round trip (spec §4.5.7 / §9.2: "the child knows
// nothing about the parent beyond the ask_parent RPC facility routed via
// the Event Bus").
const AskParentEffectTag = "ask_parent"

// AskUserTool lets a top-level session ask the human operator a
// question and block until they answer. Sub-agents never receive this
// tool (spec §4.5.8); they get AskParentTool instead.
type AskUserTool struct{}

func (t *AskUserTool) Name() string { return "ask_user" }

func (t *AskUserTool) Description(ctx context.Context) string {
	return "Asks the user a clarifying question and waits for their reply before continuing."
}

func (t *AskUserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{"type": "string"},
		},
		"required": []string{"question"},
	}
}

func (t *AskUserTool) Meta(args map[string]interface{}) string {
	q, _ := args["question"].(string)
	return "ask: " + q
}

func (t *AskUserTool) Execute(args map[string]interface{}, ec *ExecContext) Outcome {
	question, _ := args["question"].(string)
	if question == "" {
		return Err("question is required")
	}
	return Effect(AskUserEffectTag, map[string]interface{}{
		"session_id": ec.SessionID,
		"call_id":    ec.CallID,
		"question":   question,
	})
}

// AskParentTool lets a sub-agent ask its parent session a question and
// block until the parent (or, transitively, the user) answers.
type AskParentTool struct{}

func (t *AskParentTool) Name() string { return "ask_parent" }

func (t *AskParentTool) Description(ctx context.Context) string {
	return "Asks the parent agent a clarifying question and waits for its reply before continuing."
}

func (t *AskParentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{"type": "string"},
		},
		"required": []string{"question"},
	}
}

func (t *AskParentTool) Meta(args map[string]interface{}) string {
	q, _ := args["question"].(string)
	return "ask parent: " + q
}

func (t *AskParentTool) Execute(args map[string]interface{}, ec *ExecContext) Outcome {
	question, _ := args["question"].(string)
	if question == "" {
		return Err("question is required")
	}
	return Effect(AskParentEffectTag, map[string]interface{}{
		"session_id": ec.SessionID,
		"call_id":    ec.CallID,
		"question":   question,
	})
}
