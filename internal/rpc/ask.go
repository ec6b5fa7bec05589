package rpc

import (
	"context"

	"github.com/opalhq/opal-runtime/internal/agent"
	"github.com/opalhq/opal-runtime/internal/supervisor"
	"github.com/opalhq/opal-runtime/pkg/protocol"
)

// askHandler implements agent.AskHandler by turning a tool task's blocking
// question into a client/ask_user server→client request (spec §6: "the
// server blocks the requesting tool task until the client responds").
type askHandler struct {
	facade *Facade
}

func (h *askHandler) Ask(ctx context.Context, sessionID, callID, question string) (string, error) {
	result, err := h.facade.sendServerRequest(ctx, protocol.MethodClientAskUser, map[string]interface{}{
		"session_id": sessionID,
		"call_id":    callID,
		"question":   question,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Answer string `json:"answer"`
	}
	if err := unmarshalInto(result, &parsed); err != nil {
		return "", err
	}
	return parsed.Answer, nil
}

// wireAskHandler attaches this facade's askHandler to a freshly started
// session so its ask_user/ask_parent tool calls round trip to the client.
func (f *Facade) wireAskHandler(srv *supervisor.SessionServer) {
	srv.SetAskHandler(&askHandler{facade: f})
}

var _ agent.AskHandler = (*askHandler)(nil)
