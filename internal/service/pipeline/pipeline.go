package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/service/command"
	"github.com/sandevgo/percept/internal/service/entity"
	"github.com/sandevgo/percept/internal/service/packet"
	"github.com/sandevgo/percept/internal/service/safety"
	"github.com/sandevgo/percept/internal/service/session"
	"github.com/sandevgo/percept/internal/service/speaker"
	"github.com/sandevgo/percept/internal/service/summary"
	"github.com/sandevgo/percept/pkg/log"
)

const (
	ReasonEmptyCommand = "empty_command"
	confidenceControl  = 1.0

	replyUnauthorized = "Only the owner or an approved speaker can do that."
)

type CommandExtractor interface {
	ExtractSession(sessionID, text string) (command.Match, bool)
	Observe(sessionID string, segments []core.Segment)
	Forget(sessionID string)
}

type ControlRouter interface {
	Match(input string) (command.Command, bool)
	Execute(ctx context.Context, inv command.Invocation, input string) (string, bool)
}

type Speakers interface {
	Observe(ctx context.Context, segments []core.Segment) error
	Authorize(ctx context.Context, speakerID string) bool
	Labels(ctx context.Context, ids []string) []string
}

type IntentParser interface {
	Parse(ctx context.Context, command string) core.ParsedIntent
}

type MentionExtractor interface {
	Extract(ctx context.Context, conversationID, text string) []core.EntityMention
}

type MentionResolver interface {
	NewContext(ctx context.Context, conversationID string) (*entity.ResolutionContext, error)
	Resolve(ctx context.Context, m core.EntityMention, rc *entity.ResolutionContext) core.Resolution
}

type EntityCatalog interface {
	Get(id string) (core.Entity, bool)
	Commit(ctx context.Context, resolutions []core.Resolution) ([]core.Entity, error)
}

type RelationGraph interface {
	Touching(ids []string) []core.Relationship
	RecordConversation(ctx context.Context, resolutions []core.Resolution) ([]core.Relationship, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, conv *core.Conversation) (summary.Result, error)
}

type Deps struct {
	Settings      config.Provider
	Extractor     CommandExtractor
	Router        ControlRouter
	Speakers      Speakers
	Parser        IntentParser
	Mentions      MentionExtractor
	Resolver      MentionResolver
	Catalog       EntityCatalog
	Graph         RelationGraph
	Summarizer    Summarizer
	Conversations core.ConversationRepository
	Actions       core.ActionRepository
	Sinks         []core.EventSink
	Now           func() time.Time
}

// Pipeline wires the flush handlers of the session buffer to intent parsing,
// entity resolution, persistence and the event sinks.
type Pipeline struct {
	Deps
}

func New(deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{Deps: deps}
}

// HandleCommand is the command-silence handler.
func (p *Pipeline) HandleCommand(ctx context.Context, flush session.CommandFlush) {
	logger := log.FromCtx(ctx).With().Str("session_id", flush.SessionID).Logger()

	if err := p.Speakers.Observe(ctx, flush.Segments); err != nil {
		logger.Warn().Err(err).Msg("speaker stats not recorded")
	}
	p.Extractor.Observe(flush.SessionID, flush.Segments)

	m, ok := p.Extractor.ExtractSession(flush.SessionID, flush.Text)
	if !ok {
		logger.Debug().Str("text", flush.Text).Msg("no wake phrase")
		return
	}
	logger.Info().Str("wake", m.WakePhrase).Str("command", m.Command).Msg("command detected")

	if m.Command == "" {
		unknown := core.Unknown("", ReasonEmptyCommand)
		p.emit(ctx, core.EventIntent, intentEvent(flush.SessionID, m, unknown))
		return
	}

	speakerID := triggerSpeaker(flush.Segments, m.WakePhrase)
	authorized := p.Speakers.Authorize(ctx, speakerID)

	// Unapproved speakers never reach control commands.
	if cmd, ok := p.Router.Match(m.Command); ok && !authorized {
		logger.Warn().Str("speaker_id", speakerID).Str("command", cmd.Name()).Msg("control command from unapproved speaker refused")
		p.emit(ctx, core.EventControl, controlEvent(flush.SessionID, m, replyUnauthorized, true))
		return
	}
	inv := command.Invocation{SessionID: flush.SessionID, SpeakerID: speakerID}
	if reply, handled := p.Router.Execute(ctx, inv, m.Command); handled {
		p.emit(ctx, core.EventControl, controlEvent(flush.SessionID, m, reply, false))
		return
	}

	intent := p.Parser.Parse(ctx, m.Command)
	if !authorized {
		logger.Warn().Str("speaker_id", speakerID).Msg("command from unapproved speaker")
		intent.HumanRequired = true
		intent.Reason = speaker.ReasonUnauthorized
	}

	resolved := p.resolveCommand(ctx, flush.ConversationID, m.Command)
	pkt := p.assemble(ctx, flush, &intent, resolved)
	verdict := safety.Classify(m.Command, intent)

	p.emit(ctx, core.EventIntent, intentEvent(flush.SessionID, m, intent))

	req := core.ActionRequest{
		ID:                   uuid.NewString(),
		SessionID:            flush.SessionID,
		ConversationID:       flush.ConversationID,
		Intent:               intent.Action,
		Params:               intent.Params,
		RawText:              m.Command,
		Confidence:           intent.Confidence,
		Context:              pkt,
		RequiresConfirmation: verdict.Level == core.SafetyNeedsConfirmation,
		HumanRequired:        intent.HumanRequired,
		Reason:               intent.Reason,
		Safety:               verdict,
		CreatedAt:            p.Now(),
	}
	if verdict.Level == core.SafetyBlocked {
		logger.Warn().Str("category", verdict.Category).Msg("command blocked")
		req.Reason = verdict.Reason
	} else if req.Reason == "" {
		req.Reason = verdict.Reason
	}

	if err := p.Actions.SaveAction(ctx, req); err != nil {
		logger.Error().Err(err).Str("action_id", req.ID).Msg("failed to persist action")
	}
	p.emit(ctx, core.EventAction, req)
}

// resolveCommand runs the fast pass and the resolver against a snapshot.
// The command path never writes entities or edges.
func (p *Pipeline) resolveCommand(ctx context.Context, conversationID, text string) []core.Resolution {
	s := p.Settings.Current()
	mentions := entity.FastPass(text, s.Entities.KnownProducts, s.WakePhrases)
	if len(mentions) == 0 {
		return nil
	}
	rc, err := p.Resolver.NewContext(ctx, conversationID)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("command mentions left unresolved")
		return nil
	}
	return p.resolveMentions(ctx, conversationID, mentions, rc)
}

func (p *Pipeline) assemble(ctx context.Context, flush session.CommandFlush, intent *core.ParsedIntent, resolved []core.Resolution) core.ContextPacket {
	var ids []string
	for _, r := range resolved {
		if r.EntityID != "" {
			ids = append(ids, r.EntityID)
		}
	}
	edges := p.Graph.Touching(ids)

	names := make(map[string]string)
	for _, e := range edges {
		for _, id := range []string{e.Source, e.Target} {
			if ent, ok := p.Catalog.Get(id); ok {
				names[id] = ent.DisplayName
			}
		}
	}

	speakerIDs := uniqueSpeakers(flush.Recent)
	labels := make(map[string]string, len(speakerIDs))
	for i, l := range p.Speakers.Labels(ctx, speakerIDs) {
		labels[speakerIDs[i]] = l
	}

	var info *packet.ConversationInfo
	if flush.ConversationID != "" {
		var last time.Time
		if n := len(flush.Segments); n > 0 {
			last = flush.Segments[n-1].ReceivedAt
		}
		info = &packet.ConversationInfo{
			ID:             flush.ConversationID,
			SessionID:      flush.SessionID,
			StartedAt:      flush.StartedAt,
			Duration:       last.Sub(flush.StartedAt),
			Speakers:       p.Speakers.Labels(ctx, flush.Speakers),
			UtteranceCount: len(flush.Recent),
		}
	}

	return packet.Assemble(packet.Input{
		Conversation: info,
		Intent:       intent,
		Resolved:     resolved,
		Edges:        edges,
		Names:        names,
		Labels:       labels,
		Recent:       flush.Recent,
		Limits:       packet.LimitsFrom(p.Settings.Current()),
	})
}

// HandleConversation is the conversation-silence handler. Summary and entity
// work run side by side, then the conversation is persisted, the graph updated
// and a summary event emitted. Failures are logged and never stop the close.
func (p *Pipeline) HandleConversation(ctx context.Context, conv *core.Conversation) {
	logger := log.FromCtx(ctx).With().
		Str("session_id", conv.SessionID).
		Str("conversation_id", conv.ID).
		Logger()
	defer p.Extractor.Forget(conv.SessionID)

	var (
		sum         summary.Result
		resolutions []core.Resolution
		g           errgroup.Group
	)
	g.Go(func() error {
		res, err := p.Summarizer.Summarize(ctx, conv)
		if err != nil {
			logger.Warn().Err(err).Msg("summary failed")
			return nil
		}
		sum = res
		return nil
	})
	g.Go(func() error {
		resolutions = p.resolveConversation(ctx, conv)
		return nil
	})
	_ = g.Wait()

	conv.SummaryText = sum.Text
	conv.ActionItems = sum.ActionItems
	conv.KeyTopics = sum.KeyTopics

	if fresh, err := p.Catalog.Commit(ctx, resolutions); err != nil {
		logger.Error().Err(err).Msg("entity commit failed")
	} else if len(fresh) > 0 {
		logger.Info().Int("entities", len(fresh)).Msg("new entities")
	}

	if err := p.Conversations.SaveConversation(ctx, conv, resolutions); err != nil {
		logger.Error().Err(err).Msg("failed to persist conversation")
	}

	if edges, err := p.Graph.RecordConversation(ctx, resolutions); err != nil {
		logger.Error().Err(err).Msg("relationship update failed")
	} else {
		logger.Debug().Int("edges", len(edges)).Msg("relationships updated")
	}

	logger.Info().
		Int("utterances", len(conv.Utterances)).
		Int("mentions", len(resolutions)).
		Int("needs_review", ambiguous(resolutions)).
		Bool("summarized", !sum.Skipped).
		Msg("conversation closed")

	p.emit(ctx, core.EventSummary, core.SummaryEvent{
		ConversationID:  conv.ID,
		SessionID:       conv.SessionID,
		DurationSeconds: conv.Duration().Seconds(),
		Speakers:        p.Speakers.Labels(ctx, conv.Speakers),
		SummaryText:     conv.SummaryText,
		ActionItems:     nonNil(conv.ActionItems),
		KeyTopics:       nonNil(conv.KeyTopics),
		Entities:        resolutions,
	})
}

func (p *Pipeline) resolveConversation(ctx context.Context, conv *core.Conversation) []core.Resolution {
	mentions := p.Mentions.Extract(ctx, conv.ID, conv.PlainText())
	if len(mentions) == 0 {
		return nil
	}
	rc, err := p.Resolver.NewContext(ctx, conv.ID)
	if err != nil {
		// Without a snapshot every mention still gets persisted and queued.
		log.FromCtx(ctx).Warn().Err(err).Str("conversation_id", conv.ID).Msg("resolving against an empty snapshot")
		rc = entity.NewResolutionContext(conv.ID, nil)
	}
	return p.resolveMentions(ctx, conv.ID, mentions, rc)
}

func ambiguous(resolutions []core.Resolution) int {
	n := 0
	for _, r := range resolutions {
		if errors.Is(r.Err(), core.ErrResolutionAmbiguous) {
			n++
		}
	}
	return n
}

// resolveMentions resolves in order so a pronoun binds to the entities
// named before it. A pronoun or reference with no antecedent is dropped.
func (p *Pipeline) resolveMentions(ctx context.Context, conversationID string, mentions []core.EntityMention, rc *entity.ResolutionContext) []core.Resolution {
	out := make([]core.Resolution, 0, len(mentions))
	for _, m := range mentions {
		m.ConversationID = conversationID
		res := p.Resolver.Resolve(ctx, m, rc)
		if res.EntityID == "" && entity.IsReference(m.SurfaceText) {
			continue
		}
		out = append(out, res)
	}
	return out
}

func (p *Pipeline) emit(ctx context.Context, kind core.EventKind, data any) {
	ev := core.Event{Kind: kind, Time: p.Now(), Data: data}
	for _, sink := range p.Sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("event", string(kind)).Msgf("%T publish failed", sink)
		}
	}
}

func intentEvent(sessionID string, m command.Match, intent core.ParsedIntent) core.IntentEvent {
	params := intent.Params
	if params == nil {
		params = map[string]any{}
	}
	return core.IntentEvent{
		SessionID:        sessionID,
		WakeWordDetected: m.WakePhrase,
		RawText:          m.Command,
		Intent:           intent.Action,
		Entities:         params,
		Confidence:       intent.Confidence,
		HumanRequired:    intent.HumanRequired,
	}
}

func controlEvent(sessionID string, m command.Match, reply string, refused bool) core.IntentEvent {
	return core.IntentEvent{
		SessionID:        sessionID,
		WakeWordDetected: m.WakePhrase,
		RawText:          m.Command,
		Intent:           core.ActionControl,
		Entities:         map[string]any{},
		Confidence:       confidenceControl,
		HumanRequired:    refused,
		Reply:            reply,
	}
}

// triggerSpeaker is the speaker of the segment holding the wake phrase,
// or of the first segment for a continuation.
func triggerSpeaker(segs []core.Segment, wake string) string {
	if len(segs) == 0 {
		return ""
	}
	if wake != command.WakeContinuation {
		for _, s := range segs {
			if strings.Contains(strings.ToLower(s.Text), wake) {
				return s.SpeakerID
			}
		}
	}
	return segs[0].SpeakerID
}

func uniqueSpeakers(utts []core.Utterance) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range utts {
		if _, ok := seen[u.SpeakerID]; ok || u.SpeakerID == "" {
			continue
		}
		seen[u.SpeakerID] = struct{}{}
		out = append(out, u.SpeakerID)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
