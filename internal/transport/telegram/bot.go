package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

const (
	baseContextKey = "base_context"
	queueSize      = 64
	pendingLimit   = 10
	searchLimit    = 10
)

type Actions interface {
	ListActions(ctx context.Context, status string, limit int) ([]core.ActionRequest, error)
}

type Search interface {
	SearchUtterances(ctx context.Context, query string, limit int) ([]core.UtteranceHit, error)
}

type outgoing struct {
	md     string
	silent bool
}

// Notifier forwards summaries and actions that need the owner to a Telegram chat.
// It also answers /pending and /search from the owner.
type Notifier struct {
	bot     *tele.Bot
	send    *sender
	cfg     *config.TelegramConfig
	owner   tele.Recipient
	actions Actions
	search  Search
	format  formatter

	queue chan outgoing
	done  chan struct{}
	once  sync.Once
}

func NewNotifier(ctx context.Context, cfg *config.TelegramConfig, actions Actions, search Search) (*Notifier, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	n := newNotifier(b, cfg, actions, search)
	n.bot = b

	// Use context from Signal with logger
	b.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			c.Set(baseContextKey, ctx)
			return next(c)
		}
	})

	// Middleware: Only allow the owner
	b.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() == nil || c.Sender().ID != cfg.OwnerID {
				return nil
			}
			return next(c)
		}
	})

	b.Handle("/pending", n.handlePending)
	b.Handle("/search", n.handleSearch)

	return n, nil
}

func newNotifier(m messenger, cfg *config.TelegramConfig, actions Actions, search Search) *Notifier {
	return &Notifier{
		send:    newSender(m),
		cfg:     cfg,
		owner:   tele.ChatID(cfg.OwnerID),
		actions: actions,
		search:  search,
		queue:   make(chan outgoing, queueSize),
		done:    make(chan struct{}),
	}
}

func (n *Notifier) Start(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "telegram")
	log.FromCtx(ctx).Info().Msg("starting telegram notifier")

	if n.bot != nil {
		go n.bot.Start()
	}
	n.drain(ctx)
	return nil
}

// drain delivers queued messages in order until Shutdown.
func (n *Notifier) drain(ctx context.Context) {
	for {
		select {
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		case <-n.done:
			for {
				select {
				case msg := <-n.queue:
					n.deliver(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, msg outgoing) {
	if err := n.send.sendMarkdown(ctx, n.owner, msg.md, msg.silent); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("telegram notification dropped")
	}
}

func (n *Notifier) Shutdown(ctx context.Context) error {
	n.once.Do(func() {
		if n.bot != nil {
			n.bot.Stop()
		}
		close(n.done)
	})
	return nil
}

// Publish queues the event for delivery. Events the owner does not need are ignored,
// and a full queue drops the message rather than stalling the pipeline.
func (n *Notifier) Publish(ctx context.Context, ev core.Event) error {
	msg, ok := n.render(ev)
	if !ok {
		return nil
	}

	select {
	case <-n.done:
		return nil
	default:
	}

	select {
	case n.queue <- msg:
		return nil
	default:
		return fmt.Errorf("telegram queue full, dropped %s event: %w", ev.Kind, core.ErrCollaboratorUnavailable)
	}
}

func (n *Notifier) render(ev core.Event) (outgoing, bool) {
	switch data := ev.Data.(type) {
	case core.SummaryEvent:
		return outgoing{md: n.format.Summary(data), silent: n.cfg.SilentSummaries}, true
	case core.ActionRequest:
		if !data.HumanRequired && !data.RequiresConfirmation && data.Safety.Level != core.SafetyBlocked {
			return outgoing{}, false
		}
		return outgoing{md: n.format.Action(data)}, true
	}
	return outgoing{}, false
}

func (n *Notifier) handlePending(c tele.Context) error {
	ctx := c.Get(baseContextKey).(context.Context)

	reqs, err := n.actions.ListActions(ctx, "needs_confirmation", pendingLimit)
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("list pending actions")
		return c.Send(fmt.Sprintf("error: %v", err))
	}
	return n.send.sendMarkdown(ctx, c.Recipient(), n.format.Pending(reqs), false)
}

func (n *Notifier) handleSearch(c tele.Context) error {
	ctx := c.Get(baseContextKey).(context.Context)

	query := strings.TrimSpace(c.Message().Payload)
	if query == "" {
		return c.Send("Usage: /search <words>")
	}
	_ = c.Notify(tele.Typing)

	hits, err := n.search.SearchUtterances(ctx, query, searchLimit)
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("search utterances")
		return c.Send(fmt.Sprintf("error: %v", err))
	}
	return n.send.sendMarkdown(ctx, c.Recipient(), n.format.Hits(query, hits), false)
}
