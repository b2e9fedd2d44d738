package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chorus-voice/chorus-core/core/protocol"
)

// executeTool runs one correlated function call against its capability
// provider. Fire-and-forget from the event loop's perspective: it runs on its
// own goroutine and the dispatcher keeps processing inbound events (an
// interruption arriving mid-call does not cancel it).
//
// Every call_id the remote endpoint issues gets exactly one terminating
// function_call_output, error-shaped if the provider failed or the tool is
// unknown; the conversation stalls otherwise. The result goes out over the
// delivery snapshot taken when the call was dispatched, so a call outliving
// its connection dies with it instead of leaking into a reconnect.
func (s *Session) executeTool(ctx context.Context, dl delivery, callID, name, arguments string) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
	)

	output, err := s.callProvider(ctx, name, arguments)
	if err != nil {
		wrapped := &ToolProviderError{Tool: name, Err: err}
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())

		payload, marshalErr := json.Marshal(map[string]any{
			"error":   true,
			"message": wrapped.Error(),
		})
		if marshalErr != nil {
			payload = []byte(`{"error":true,"message":"tool execution failed"}`)
		}
		output = string(payload)
	}

	invocation := ToolInvocation{
		ID:        callID,
		Tool:      name,
		Arguments: parseArguments(arguments),
		Result:    output,
		Timestamp: now(),
	}

	// If the connection is gone by now the result is simply dropped; there
	// is no channel left to stall.
	if err := dl.send(ctx, protocol.NewFunctionCallOutputItem(callID, output)); err != nil {
		logger.Warn("dropped tool result, connection gone", "tool", name, "error", err)
		return
	}
	if err := dl.send(ctx, protocol.NewResponseCreate()); err != nil {
		logger.Warn("failed to request continuation after tool result", "tool", name, "error", err)
	}

	dl.deliver(invocation)
}

// callProvider dispatches to the registered provider. An unknown tool name is
// a local fault; no provider is contacted.
func (s *Session) callProvider(ctx context.Context, name, arguments string) (string, error) {
	tool, ok := s.registry.Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %q", name)
	}
	return tool.Execute(ctx, arguments)
}

func parseArguments(arguments string) map[string]any {
	if arguments == "" {
		return nil
	}

	parsed := map[string]any{}
	if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
		// Keep the raw text; the transcript should still show what the model
		// asked for.
		return map[string]any{"_raw": arguments}
	}
	return parsed
}
