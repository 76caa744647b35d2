package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sandevgo/percept/internal/core"
)

type SpeakerRegistry interface {
	Teach(ctx context.Context, id, name string) error
	Approve(ctx context.Context, ref string) (core.Speaker, error)
	Labels(ctx context.Context, ids []string) []string
}

// Participants lists the speaker ids of a session's open conversation.
type Participants interface {
	Participants(sessionID string) []string
}

var (
	reTeach   = regexp.MustCompile(`(?i)^that was ([\p{L}][\p{L}'-]*)(?: ([\p{L}][\p{L}'-]*))?$`)
	reWho     = regexp.MustCompile(`(?i)^who was (?:that|in that conversation)$`)
	reApprove = regexp.MustCompile(`(?i)^approve speaker (.+)$`)
)

// Casers carry state, so each call gets its own.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

type TeachCommand struct {
	speakers *LastSpeakers
	registry SpeakerRegistry
}

func NewTeachCommand(speakers *LastSpeakers, registry SpeakerRegistry) *TeachCommand {
	return &TeachCommand{speakers: speakers, registry: registry}
}

func (c *TeachCommand) Name() string { return "that_was" }

func (c *TeachCommand) Description() string {
	return "Name the last speaker who was not the owner"
}

func (c *TeachCommand) Match(text string) ([]string, bool) {
	m := reTeach.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	args := []string{m[1]}
	if m[2] != "" {
		args = append(args, m[2])
	}
	return args, true
}

// Execute names the most recent other speaker; whoever gives the command
// can never name themselves.
func (c *TeachCommand) Execute(ctx context.Context, inv Invocation, args []string) (string, error) {
	id, ok := c.speakers.Get(inv.SessionID, inv.SpeakerID)
	if !ok {
		return "I haven't heard anyone else in this session yet.", nil
	}
	name := title(strings.Join(args, " "))
	if err := c.registry.Teach(ctx, id, name); err != nil {
		return "", fmt.Errorf("teach speaker: %w", err)
	}
	return fmt.Sprintf("Got it, %s is %s.", id, name), nil
}

type WhoCommand struct {
	participants Participants
	registry     SpeakerRegistry
}

func NewWhoCommand(participants Participants, registry SpeakerRegistry) *WhoCommand {
	return &WhoCommand{participants: participants, registry: registry}
}

func (c *WhoCommand) Name() string { return "who_was_that" }

func (c *WhoCommand) Description() string {
	return "List the speakers of the current conversation"
}

func (c *WhoCommand) Match(text string) ([]string, bool) {
	return nil, reWho.MatchString(text)
}

func (c *WhoCommand) Execute(ctx context.Context, inv Invocation, _ []string) (string, error) {
	ids := c.participants.Participants(inv.SessionID)
	if len(ids) == 0 {
		return "Nobody has spoken in this conversation yet.", nil
	}
	return "Speakers in this conversation: " + strings.Join(c.registry.Labels(ctx, ids), ", ") + ".", nil
}

type ApproveCommand struct {
	registry SpeakerRegistry
}

func NewApproveCommand(registry SpeakerRegistry) *ApproveCommand {
	return &ApproveCommand{registry: registry}
}

func (c *ApproveCommand) Name() string { return "approve_speaker" }

func (c *ApproveCommand) Description() string {
	return "Allow a speaker to issue commands"
}

func (c *ApproveCommand) Match(text string) ([]string, bool) {
	m := reApprove.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return []string{m[1]}, true
}

func (c *ApproveCommand) Execute(ctx context.Context, _ Invocation, args []string) (string, error) {
	sp, err := c.registry.Approve(ctx, args[0])
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Sprintf("I don't know a speaker called %s.", args[0]), nil
	}
	if err != nil {
		return "", fmt.Errorf("approve speaker: %w", err)
	}
	return fmt.Sprintf("%s can now give commands.", sp.Label()), nil
}
