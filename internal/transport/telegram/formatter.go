package telegram

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/conv"
)

// formatter builds notification markdown. Everything heard or stored is
// escaped; only the templates carry markdown.
type formatter struct{}

func (f formatter) label(label, value string) string {
	return fmt.Sprintf("**%s**  ›  %s\n", label, conv.Code(value))
}

func (f formatter) list(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("› %s\n", item))
	}
	return sb.String()
}

func (f formatter) section(emoji, title, content string) string {
	return fmt.Sprintf("%s **%s**\n%s\n", emoji, title, content)
}

func (f formatter) combine(sections ...string) string {
	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n")
}

func (f formatter) Summary(ev core.SummaryEvent) string {
	minutes := int(math.Round(ev.DurationSeconds / 60))
	header := f.section("📝", "Conversation ended",
		f.label("Session", ev.SessionID)+
			f.label("Length", fmt.Sprintf("%d min", minutes))+
			f.label("Speakers", strings.Join(ev.Speakers, ", ")))

	var summary, items, topics string
	if ev.SummaryText != "" {
		summary = conv.Escape(ev.SummaryText) + "\n"
	}
	if len(ev.ActionItems) > 0 {
		items = f.section("✅", "Action items", f.list(escapeAll(ev.ActionItems)))
	}
	if len(ev.KeyTopics) > 0 {
		topics = f.label("Topics", strings.Join(ev.KeyTopics, ", "))
	}
	return f.combine(header, summary, items, topics)
}

func (f formatter) Action(req core.ActionRequest) string {
	var title, emoji string
	switch {
	case req.Safety.Level == core.SafetyBlocked:
		emoji, title = "⛔", "Command blocked"
	case req.HumanRequired:
		emoji, title = "❓", "Command needs a human"
	default:
		emoji, title = "⚠️", "Command needs confirmation"
	}

	var sb strings.Builder
	sb.WriteString(f.label("Heard", req.RawText))
	sb.WriteString(f.label("Intent", string(req.Intent)))
	if req.Reason != "" {
		sb.WriteString(f.label("Reason", req.Reason))
	}
	if req.Safety.Category != "" {
		sb.WriteString(f.label("Category", req.Safety.Category))
	}

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, conv.Escape(k)+": "+conv.Escape(fmt.Sprint(req.Params[k])))
	}

	var paramSection string
	if len(params) > 0 {
		paramSection = f.section("🧩", "Parameters", f.list(params))
	}
	return f.combine(f.section(emoji, title, sb.String()), paramSection, f.label("Request", req.ID))
}

func (f formatter) Pending(reqs []core.ActionRequest) string {
	if len(reqs) == 0 {
		return "Nothing is waiting for confirmation."
	}
	lines := make([]string, 0, len(reqs))
	for _, r := range reqs {
		lines = append(lines, fmt.Sprintf("%s %s: %s", conv.Code(r.CreatedAt.Format("Jan 2 15:04")), r.Intent, conv.Escape(r.RawText)))
	}
	return f.section("⚙️", "Waiting for confirmation", f.list(lines))
}

func (f formatter) Hits(query string, hits []core.UtteranceHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No utterances match %s.", conv.Code(query))
	}
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("%s %s: %s", conv.Code(h.StartedAt.Format("Jan 2 15:04")), conv.Escape(h.SpeakerID), conv.Escape(h.Text)))
	}
	return f.section("🔎", "Search results", f.list(lines))
}

func escapeAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = conv.Escape(s)
	}
	return out
}
