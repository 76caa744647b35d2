package summary

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/providers/llm"
	"github.com/sandevgo/percept/pkg/log"
	"github.com/sandevgo/percept/pkg/tokens"
)

const (
	maxActionItems  = 10
	maxPromptTokens = 6000
	maxHighlights   = 2
)

type Result struct {
	Text        string
	ActionItems []string
	KeyTopics   []string
	Skipped     bool
}

var reActionItem = regexp.MustCompile(
	`(?i)\b(?:i'll|i will|we need to|need to|have to|remind (?:me|us) to|follow up (?:on|with)|don'?t forget to|make sure to|todo|to-do|action item)[:;]?\s+([^.!?,;]+)`,
)

var reWord = regexp.MustCompile(`[a-z]{4,}`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`that this with have from they been will would could should about there their
		what when where which just like know think going want really right yeah okay some them then also well
		here more very thing something dont thats were your into than only over because said make sure need
		jarvis remind`) {
		stopWords[w] = struct{}{}
	}
}

// Summarizer condenses a closed conversation. An LLM summary is used when
// enabled and reachable, the extractive summary otherwise.
type Summarizer struct {
	ai       core.AIProvider
	settings config.Provider
}

func New(ai core.AIProvider, settings config.Provider) *Summarizer {
	return &Summarizer{ai: ai, settings: settings}
}

func (s *Summarizer) Summarize(ctx context.Context, conv *core.Conversation) (Result, error) {
	cfg := s.settings.Current().Summary
	if conv == nil || len(conv.Utterances) < cfg.MinUtterances || conv.WordCount < cfg.MinWords {
		return Result{Skipped: true}, nil
	}

	res := Result{
		ActionItems: ActionItems(conv.Utterances),
		KeyTopics:   KeyTopics(conv.PlainText(), cfg.MaxTopics),
	}

	if cfg.UseLLM && s.ai != nil {
		llmRes, err := s.llmSummary(ctx, conv)
		if err == nil {
			res.Text = llmRes.Summary
			if len(llmRes.ActionItems) > 0 {
				res.ActionItems = capList(llmRes.ActionItems, maxActionItems)
			}
			if len(llmRes.Topics) > 0 {
				res.KeyTopics = capList(llmRes.Topics, cfg.MaxTopics)
			}
			return res, nil
		}
		log.FromCtx(ctx).Warn().Err(err).Str("conversation_id", conv.ID).Msg("llm summary failed, using extractive summary")
	}

	res.Text = extractive(conv, res.KeyTopics, len(res.ActionItems))
	return res, nil
}

type llmReply struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Topics      []string `json:"topics"`
}

func (s *Summarizer) llmSummary(ctx context.Context, conv *core.Conversation) (llmReply, error) {
	cfg := s.settings.Current().Summary
	transcript, _ := tokens.Truncate(conv.FullText(), maxPromptTokens)

	ctx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
	defer cancel()

	resp, err := s.ai.Chat(ctx, []core.Message{
		{Role: core.RoleSystem, Content: `Summarize the conversation transcript. Output format: JSON object {summary, action_items, topics}. summary is at most three sentences. action_items are short imperative phrases. topics are single lower-case words.`},
		{Role: core.RoleUser, Content: transcript},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", core.ErrCollaboratorUnavailable, err)
		}
		return llmReply{}, err
	}

	var reply llmReply
	if err := llm.DecodeObject(resp.Content, &reply); err != nil {
		return llmReply{}, fmt.Errorf("parse summary: %w", err)
	}
	reply.Summary = strings.TrimSpace(reply.Summary)
	if reply.Summary == "" {
		return llmReply{}, errors.New("empty summary")
	}
	return reply, nil
}

// ActionItems collects commitments and reminders phrased in the utterances.
func ActionItems(utts []core.Utterance) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range utts {
		for _, m := range reActionItem.FindAllStringSubmatch(u.Text, -1) {
			item := strings.TrimSpace(strings.TrimRight(m[1], ",;: "))
			if n := len(item); n <= 5 || n >= 200 {
				continue
			}
			key := strings.ToLower(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
			if len(out) == maxActionItems {
				return out
			}
		}
	}
	return out
}

// KeyTopics ranks content words by frequency, ties broken by first use.
func KeyTopics(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	counts := make(map[string]int)
	var order []string
	for _, w := range reWord.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return capList(order, limit)
}

func extractive(conv *core.Conversation, topics []string, items int) string {
	var b strings.Builder
	minutes := int(conv.Duration().Minutes() + 0.5)
	fmt.Fprintf(&b, "%d %s over %d min (%d words)",
		len(conv.Speakers), plural(len(conv.Speakers), "speaker", "speakers"), minutes, conv.WordCount)
	if len(topics) > 0 {
		fmt.Fprintf(&b, " about %s", strings.Join(topics, ", "))
	}
	b.WriteString(".")
	if items > 0 {
		fmt.Fprintf(&b, " %d %s.", items, plural(items, "action item", "action items"))
	}

	for _, h := range highlights(conv.Utterances, topics) {
		b.WriteString(" ")
		b.WriteString(h)
	}
	return b.String()
}

// highlights picks the utterances that mention the most topic words,
// returned in conversation order.
func highlights(utts []core.Utterance, topics []string) []string {
	if len(topics) == 0 {
		return nil
	}
	type scored struct {
		idx, score int
	}
	topicSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		topicSet[t] = struct{}{}
	}
	var cands []scored
	for i, u := range utts {
		score := 0
		for _, w := range reWord.FindAllString(strings.ToLower(u.Text), -1) {
			if _, ok := topicSet[w]; ok {
				score++
			}
		}
		if score > 0 {
			cands = append(cands, scored{i, score})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > maxHighlights {
		cands = cands[:maxHighlights]
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].idx < cands[j].idx })

	out := make([]string, 0, len(cands))
	for _, c := range cands {
		text := strings.TrimSpace(utts[c.idx].Text)
		if !strings.ContainsAny(text[len(text)-1:], ".!?") {
			text += "."
		}
		out = append(out, fmt.Sprintf("%s: %q", utts[c.idx].SpeakerID, text))
	}
	return out
}

func capList(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
