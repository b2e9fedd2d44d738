package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/chorus-voice/chorus-core/core/protocol"
)

// UserContext is the live contextual data embedded into the session
// instructions. Snapshotted at configuration time; later changes only affect
// the next session.
type UserContext struct {
	Location        string
	TemperatureUnit string
	Now             time.Time
}

// ContextProvider resolves the user's live context. Implementations may
// block until the context becomes available; configuration is deferred until
// they return, never skipped.
type ContextProvider interface {
	UserContext(ctx context.Context) (UserContext, error)
}

// ContextProviderFunc adapts a function to the ContextProvider interface.
type ContextProviderFunc func(ctx context.Context) (UserContext, error)

func (f ContextProviderFunc) UserContext(ctx context.Context) (UserContext, error) {
	return f(ctx)
}

// Turn-detection tuning sent with session.update. Tuned against false
// triggers on background noise and truncation of slow sentence endings.
const (
	turnDetectionThreshold       = 0.5
	turnDetectionPrefixPadding   = 300 * time.Millisecond
	turnDetectionTrailingSilence = 800 * time.Millisecond
)

const contextRetryInterval = 250 * time.Millisecond

// configure composes and sends the one-time session.update. It runs once per
// connection; the session resets the guard on every fresh open and the update
// goes out over that connection's delivery snapshot.
func (s *Session) configure(ctx context.Context, dl delivery) {
	if !s.configuring.CompareAndSwap(false, true) {
		return
	}

	ctx, span := tracer.Start(ctx, "configure session")
	defer span.End()

	userContext, err := s.resolveContext(ctx)
	if err != nil {
		// Leave the guard set: a context provider that failed terminally
		// will fail again, and the session still works untailored.
		err = fmt.Errorf("failed to resolve user context: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("configuring session without user context", "error", err)
	}

	update := protocol.NewSessionUpdate(protocol.SessionConfig{
		Instructions: buildInstructions(userContext, s.registry.Names()),
		Voice:        s.config.Voice,
		Modalities:   []string{"audio", "text"},
		InputAudioTranscription: &protocol.TranscriptionOpts{
			Model: "whisper-1",
		},
		TurnDetection: &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         turnDetectionThreshold,
			PrefixPaddingMs:   int(turnDetectionPrefixPadding.Milliseconds()),
			SilenceDurationMs: int(turnDetectionTrailingSilence.Milliseconds()),
		},
		Tools: s.registry.Declarations(),
	})

	if err := dl.send(ctx, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to send session configuration", "error", err)
		return
	}

	logger.Info("session configured", "tools", len(s.registry.Names()))
}

// resolveContext waits for the context provider, retrying until the
// connection goes away. Configuration is deferred while the provider has not
// resolved yet.
func (s *Session) resolveContext(ctx context.Context) (UserContext, error) {
	if s.contextProvider == nil {
		return UserContext{Now: now()}, nil
	}

	for {
		userContext, err := s.contextProvider.UserContext(ctx)
		if err == nil {
			if userContext.Now.IsZero() {
				userContext.Now = now()
			}
			return userContext, nil
		}

		select {
		case <-ctx.Done():
			return UserContext{Now: now()}, err
		case <-time.After(contextRetryInterval):
		}
	}
}

func buildInstructions(userContext UserContext, toolNames []string) string {
	var b strings.Builder

	b.WriteString("You are a friendly, concise voice assistant. ")
	b.WriteString("Keep answers short and conversational; you are being spoken to, not read.\n\n")

	if userContext.Location != "" {
		fmt.Fprintf(&b, "The user is in %s. When a weather question names no place, use their location.\n", userContext.Location)
	}
	if userContext.TemperatureUnit != "" {
		fmt.Fprintf(&b, "Report temperatures in %s.\n", userContext.TemperatureUnit)
	}
	if !userContext.Now.IsZero() {
		fmt.Fprintf(&b, "The current date and time is %s.\n", userContext.Now.Format("Monday, January 2, 2006 at 3:04 PM"))
	}

	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "\nYou can call these tools: %s. ", strings.Join(toolNames, ", "))
		b.WriteString("Briefly acknowledge when you are about to use one. ")
		b.WriteString("When the user discloses a lasting personal fact, store it with the remember tool.")
	}

	return b.String()
}
