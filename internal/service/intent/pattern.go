package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

const (
	patternConfidence    = 0.9
	unresolvedConfidence = 0.6

	ReasonUnknownRecipient = "unknown_recipient"
	ReasonMissingParam     = "missing_param"
)

// ContactLister is the contact lookup the pattern tier resolves recipients against.
type ContactLister interface {
	ListContacts(ctx context.Context) ([]core.Contact, error)
}

type captures map[string]string

// draft is what a rule builder hands back before confidence is assigned.
type draft struct {
	params map[string]any
	reason string
}

type rule struct {
	action core.Action
	res    []*regexp.Regexp
	build  func(ctx context.Context, t *patternTier, c captures) draft
}

func mustCompile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)^`+p+`$`))
	}
	return out
}

// rules is the pattern table in priority order. The first match wins.
var rules = []rule{
	{
		action: core.ActionEmail,
		res: mustCompile(
			`(?:please\s+)?(?:(?:send|shoot|write)\s+(?:an?\s+)?)?e-?mail\s+(?:to\s+)?(?P<to>.+?)(?:\s+with\s+subject\s+(?P<subject>.+?))?(?:\s+(?:saying|that\s+says|with\s+message|with\s+body)\s+(?P<body>.+)|\s+(?P<topic>(?:about|regarding)\s+.+))?`,
		),
		build: buildEmail,
	},
	{
		action: core.ActionText,
		res: mustCompile(
			`(?:please\s+)?(?:send\s+(?:me\s+)?(?:an?\s+)?)?(?:text|message|sms)\s+(?:to\s+)?(?P<to>.+?)(?:\s+(?:saying|that)\s+(?P<body>.+))?`,
			`shoot\s+(?P<to>\S+)\s+a\s+text(?:\s+(?:saying\s+|that\s+)?(?P<body>.+))?`,
			`let\s+(?P<to>\S+)\s+know\s+(?:that\s+)?(?P<body>.+)`,
			`tell\s+(?P<to>\S+)\s+(?:that\s+|to\s+)?(?P<body>.+)`,
		),
		build: buildText,
	},
	{
		action: core.ActionReminder,
		res: mustCompile(
			`(?:please\s+)?(?:can\s+you\s+)?(?:set\s+a\s+)?remind(?:er)?(?:\s+me)?(?:\s+to)?\s+(?P<what>.+)`,
			`(?:don'?t\s+(?:let\s+me\s+)?forget|make\s+sure\s+(?:i|we))\s+(?:to\s+)?(?P<what>.+)`,
			`(?P<what>follow\s+up\s+with\s+.+)`,
		),
		build: buildReminder,
	},
	{
		action: core.ActionSearch,
		res: mustCompile(
			`(?:look\s+up|search(?:\s+for)?|google|find\s+out(?:\s+about)?|research|look\s+into)\s+(?P<query>.+)`,
			`(?:what|who)\s+(?:is|are|was|were)\s+(?P<query>.+)`,
		),
		build: func(ctx context.Context, t *patternTier, c captures) draft {
			return required(map[string]any{"query": clean(c["query"])}, "query")
		},
	},
	{
		action: core.ActionNote,
		res: mustCompile(
			`(?:remember|note(?:\s+down)?|make\s+a\s+note(?:\s+of)?|save\s+this)[\s:,-]+(?:that\s+)?(?P<content>.+)`,
			`(?:write|jot)\s+(?:that\s+|this\s+)?down(?:[\s:,-]+(?P<content>.*))?`,
			`add\s+(?:that\s+|this\s+)?to\s+my\s+(?:notes?|list)(?:[\s:,-]+(?P<content>.*))?`,
		),
		build: func(ctx context.Context, t *patternTier, c captures) draft {
			return required(map[string]any{"content": clean(c["content"])}, "content")
		},
	},
	{
		action: core.ActionOrder,
		res: mustCompile(
			`add\s+(?P<item>.+?)\s+to\s+(?:the\s+|my\s+)?shopping\s+list`,
			`(?:please\s+)?(?:order|buy|purchase)\s+(?P<item>.+?)(?:\s+from\s+(?P<store>.+))?`,
		),
		build: buildOrder,
	},
	{
		action: core.ActionCalendar,
		res: mustCompile(
			`(?:schedule|book|set\s+up|arrange)\s+(?:an?\s+)?(?P<rest>.+)`,
			`(?:put|add)\s+(?:that\s+|the\s+|an?\s+)?(?P<rest>.+?)\s+(?:on|to)\s+(?:my\s+|the\s+)?calendar(?P<tail>.*)`,
			`calendar\s+(?P<rest>.+)`,
		),
		build: buildCalendar,
	},
}

type patternTier struct {
	contacts ContactLister
}

func (patternTier) Name() string { return core.TierPattern }

func (t *patternTier) Parse(ctx context.Context, command string) (core.ParsedIntent, bool) {
	for _, r := range rules {
		for _, re := range r.res {
			m := re.FindStringSubmatch(command)
			if m == nil {
				continue
			}
			c := make(captures)
			for i, name := range re.SubexpNames() {
				if name != "" && m[i] != "" {
					c[name] = m[i]
				}
			}

			d := r.build(ctx, t, c)
			intent := core.ParsedIntent{
				Action:     r.action,
				Params:     d.params,
				Confidence: patternConfidence,
				Tier:       core.TierPattern,
				RawText:    command,
			}
			if d.reason != "" {
				intent.Confidence = unresolvedConfidence
				intent.HumanRequired = true
				intent.Reason = d.reason
			}
			return intent, true
		}
	}
	return core.ParsedIntent{}, false
}

// lookup finds a contact by exact name or alias, case-insensitively.
func (t *patternTier) lookup(ctx context.Context, name string) (core.Contact, bool) {
	if t.contacts == nil || strings.TrimSpace(name) == "" {
		return core.Contact{}, false
	}
	list, err := t.contacts.ListContacts(ctx)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("contact lookup failed")
		return core.Contact{}, false
	}
	for _, ct := range list {
		if ct.Matches(name) {
			return ct, true
		}
	}
	return core.Contact{}, false
}

var (
	reEmailAddress = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reDigits       = regexp.MustCompile(`\d`)
)

func buildEmail(ctx context.Context, t *patternTier, c captures) draft {
	spoken := clean(c["to"])
	params := map[string]any{
		"to":      spoken,
		"to_name": spoken,
		"body":    clean(first(c["body"], c["topic"])),
	}
	if s := clean(c["subject"]); s != "" {
		params["subject"] = s
	}

	if ct, ok := t.lookup(ctx, spoken); ok && ct.Email != "" {
		params["to"] = ct.Email
		return draft{params: params}
	}
	if addr := reEmailAddress.FindString(NormalizeSpokenEmail(spoken)); addr != "" {
		params["to"] = addr
		return draft{params: params}
	}
	return draft{params: params, reason: ReasonUnknownRecipient}
}

func buildText(ctx context.Context, t *patternTier, c captures) draft {
	spoken, body := clean(c["to"]), clean(c["body"])

	ct, found := t.lookup(ctx, spoken)
	if !found && body == "" {
		// "text David Chen the demo is working": the recipient is a leading
		// contact name and the rest is the message.
		words := strings.Fields(spoken)
		for k := min(3, len(words)-1); k >= 1; k-- {
			head := strings.Join(words[:k], " ")
			if hc, ok := t.lookup(ctx, head); ok {
				ct, found, spoken, body = hc, true, head, strings.Join(words[k:], " ")
				break
			}
		}
	}

	params := map[string]any{"to": spoken, "to_name": spoken, "body": body}
	switch {
	case found && ct.Phone != "":
		params["to"] = ct.Phone
	case len(reDigits.FindAllString(spoken, -1)) >= 7:
		// a spoken phone number
	default:
		return draft{params: params, reason: ReasonUnknownRecipient}
	}
	return required(params, "body")
}

var (
	reInDuration = regexp.MustCompile(`(?i)\bin\s+((?:[\w-]+\s+){0,4}?(?:seconds?|secs?|minutes?|mins?|hours?|hrs?|days?)(?:\s+and\s+a\s+half)?)\b`)
	reClock      = regexp.MustCompile(`(?i)\s+((?:at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.)?|tomorrow|tonight|this\s+(?:morning|afternoon|evening)|(?:on|next)\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|week))\b.*)$`)
)

func buildReminder(ctx context.Context, t *patternTier, c captures) draft {
	what := c["what"]
	params := map[string]any{}

	if loc := reInDuration.FindStringSubmatchIndex(what); loc != nil {
		if secs, ok := ParseSpokenDuration(what[loc[2]:loc[3]]); ok {
			params["delay_seconds"] = secs
			what = what[:loc[0]] + " " + what[loc[1]:]
		}
	}
	if _, ok := params["delay_seconds"]; !ok {
		if loc := reClock.FindStringSubmatchIndex(what); loc != nil {
			params["when"] = clean(what[loc[2]:loc[3]])
			what = what[:loc[0]]
		}
	}

	what = clean(what)
	if rest, ok := cutPrefixFold(what, "to "); ok {
		what = clean(rest)
	}
	params["what"] = what
	return required(params, "what")
}

func buildOrder(ctx context.Context, t *patternTier, c captures) draft {
	qty, item := splitQuantity(clean(c["item"]))
	params := map[string]any{"item": item, "quantity": qty}
	if s := clean(c["store"]); s != "" {
		params["store"] = s
	}
	return required(params, "item")
}

var (
	reForDuration = regexp.MustCompile(`(?i)\s+for\s+((?:[\w-]+\s+){0,4}?(?:minutes?|mins?|hours?|hrs?)(?:\s+and\s+a\s+half)?)\b`)
	reWhenTail    = regexp.MustCompile(`(?i)\s+((?:on|at|tomorrow|today|tonight|next|this)\b.*)$`)
	reWithTail    = regexp.MustCompile(`(?i)\s+with\s+(.+)$`)
)

func buildCalendar(ctx context.Context, t *patternTier, c captures) draft {
	rest := " " + strings.TrimSpace(c["rest"]+" "+c["tail"])
	params := map[string]any{}

	if loc := reForDuration.FindStringSubmatchIndex(rest); loc != nil {
		if secs, ok := ParseSpokenDuration(rest[loc[2]:loc[3]]); ok {
			params["duration_seconds"] = secs
			rest = rest[:loc[0]] + rest[loc[1]:]
		}
	}
	if loc := reWhenTail.FindStringSubmatchIndex(rest); loc != nil {
		params["when"] = clean(rest[loc[2]:loc[3]])
		rest = rest[:loc[0]]
	}
	if loc := reWithTail.FindStringSubmatchIndex(rest); loc != nil {
		params["with"] = clean(rest[loc[2]:loc[3]])
		rest = rest[:loc[0]]
	}

	title := clean(rest)
	if title == "" {
		title = "meeting"
	}
	params["title"] = title
	return draft{params: params}
}

// splitQuantity reads a leading spoken or digit quantity off item.
func splitQuantity(item string) (int, string) {
	words := strings.Fields(item)
	for k := min(3, len(words)-1); k >= 1; k-- {
		if n, ok := parseNumberWords(spokenWords(strings.Join(words[:k], " "))); ok && n > 0 {
			return n, strings.Join(words[k:], " ")
		}
	}
	return 1, item
}

func required(params map[string]any, keys ...string) draft {
	for _, k := range keys {
		if s, _ := params[k].(string); s == "" {
			return draft{params: params, reason: ReasonMissingParam}
		}
	}
	return draft{params: params}
}

func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.Join(strings.Fields(s), " "), ",.!?;:"))
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
