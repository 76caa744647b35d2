package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/percept/pkg/log"
)

// Invocation identifies who issued a control command and where.
type Invocation struct {
	SessionID string
	SpeakerID string
}

// Command is a control command handled before intent parsing.
// Match returns the arguments captured from the cleaned command text;
// patterns match case-insensitively and arguments keep their spoken case.
type Command interface {
	Name() string
	Description() string
	Match(text string) ([]string, bool)
	Execute(ctx context.Context, inv Invocation, args []string) (string, error)
}

type Router struct {
	commands []Command
}

func New(commands []Command) *Router {
	return &Router{commands: commands}
}

// Match reports the control command input would run, without running it.
func (r *Router) Match(input string) (Command, bool) {
	text := normalize(input)
	if text == "" {
		return nil, false
	}
	for _, cmd := range r.commands {
		if _, ok := cmd.Match(text); ok {
			return cmd, true
		}
	}
	return nil, false
}

// Execute runs the first control command matching input. The bool reports
// whether input was a control command at all.
func (r *Router) Execute(ctx context.Context, inv Invocation, input string) (string, bool) {
	text := normalize(input)
	if text == "" {
		return "", false
	}

	for _, cmd := range r.commands {
		args, ok := cmd.Match(text)
		if !ok {
			continue
		}
		log.FromCtx(ctx).Debug().
			Str("command", cmd.Name()).
			Str("session_id", inv.SessionID).
			Str("speaker_id", inv.SpeakerID).
			Msg("control command")
		result, err := cmd.Execute(ctx, inv, args)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), true
		}
		return result, true
	}
	return "", false
}

func (r *Router) ListCommands() []Command {
	res := make([]Command, len(r.commands))
	copy(res, r.commands)
	return res
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.Trim(s, trimSet)), " ")
}
