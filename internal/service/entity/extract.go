package entity

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

const (
	months   = `January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec`
	weekdays = `Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday`
)

const pronounConfidence = 0.4

var (
	reEmail = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reURL   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]+`)
	rePhone = regexp.MustCompile(`\+?\(?\d[\d \-().]{5,}\d`)
	reISO   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	reDates = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`(?i)\b(?:` + months + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?(?:` + months + `)(?:,?\s+\d{4})?\b`),
	}
	reWeekday = regexp.MustCompile(`(?i)\b(?:on\s+((?:next\s+)?(?:` + weekdays + `))|(next\s+(?:` + weekdays + `)))\b`)

	reTitled    = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	reCompany   = regexp.MustCompile(`\b((?:[A-Z][A-Za-z0-9&'-]*\s+){0,3}[A-Z][A-Za-z0-9&'-]*\s+(?:Inc|Corp|LLC|Ltd|Co|Group|Labs|Technologies|Systems))\b\.?`)
	reProject   = regexp.MustCompile(`\b[Pp]roject\s+([A-Z][A-Za-z0-9-]*(?:\s+[A-Z][A-Za-z0-9-]*)?)`)
	reMultiCap  = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	reSingleCap = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	reReference = regexp.MustCompile(`(?i)\b(?:the|our|a)\s+(?:client|company|team|project)\b`)
	rePronoun   = regexp.MustCompile(`(?i)\b(?:he|him|his|she|her|they|them)\b`)
)

var locationKeywords = map[string]struct{}{
	"city": {}, "street": {}, "st": {}, "avenue": {}, "road": {}, "park": {}, "square": {},
	"airport": {}, "station": {}, "county": {}, "valley": {}, "island": {}, "beach": {}, "bridge": {},
}

var stopWords = buildStopWords(
	"a an and are as at be but by can could did do does for from go got had has have he her here hey hi his how i if in is it its just let me my no not now of ok okay on or our please right say see she so that the their them then there these they this those to too up us was we well were what when where which who why will with would yes you your",
	"call email text message send tell ask remind book order search find look note write schedule set add cancel meet meeting thanks thank sure maybe also yeah good great",
	"monday tuesday wednesday thursday friday saturday sunday today tomorrow tonight yesterday",
	"january february march april may june july august september october november december",
	"mr mrs ms dr prof project team client company",
)

func buildStopWords(lists ...string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, l := range lists {
		for _, w := range strings.Fields(l) {
			m[w] = struct{}{}
		}
	}
	return m
}

// Extractor finds entity mentions in conversation text. The fast pass is
// always on; the semantic pass runs only when enabled and a provider exists.
type Extractor struct {
	ai       core.AIProvider
	settings config.Provider
}

func NewExtractor(ai core.AIProvider, settings config.Provider) *Extractor {
	return &Extractor{ai: ai, settings: settings}
}

// Extract returns the merged, deduplicated mentions of text, fast pass first.
func (e *Extractor) Extract(ctx context.Context, conversationID, text string) []core.EntityMention {
	s := e.settings.Current()
	mentions := FastPass(text, s.Entities.KnownProducts, s.WakePhrases)

	if s.Entities.SemanticPass && e.ai != nil {
		extra, err := e.semanticPass(ctx, text)
		if err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("semantic entity pass skipped")
		} else {
			mentions = append(mentions, extra...)
		}
	}

	merged := Dedup(mentions)
	for i := range merged {
		merged[i].ConversationID = conversationID
	}
	return merged
}

// Dedup keeps the first mention of every normalized surface text. Pronouns
// and definite references are kept once per offset, since each occurrence
// may point at a different entity.
func Dedup(mentions []core.EntityMention) []core.EntityMention {
	seen := make(map[string]struct{}, len(mentions))
	out := make([]core.EntityMention, 0, len(mentions))
	for _, m := range mentions {
		key := Normalize(m.SurfaceText)
		if key == "" {
			continue
		}
		if IsReference(key) {
			key = fmt.Sprintf("%s@%d", key, m.Offset)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

type scanner struct {
	text     string
	claimed  []bool
	found    []core.EntityMention
	stop     map[string]struct{}
	products []string
}

// FastPass applies the rule table in priority order. Text claimed by an
// earlier rule is never reused by a later one. Results are in text order.
func FastPass(text string, products, wakePhrases []string) []core.EntityMention {
	sc := &scanner{
		text:     text,
		claimed:  make([]bool, len(text)),
		stop:     stopWords,
		products: products,
	}
	if len(wakePhrases) > 0 {
		sc.stop = make(map[string]struct{}, len(stopWords)+len(wakePhrases))
		for w := range stopWords {
			sc.stop[w] = struct{}{}
		}
		for _, p := range wakePhrases {
			for _, w := range strings.Fields(strings.ToLower(p)) {
				sc.stop[w] = struct{}{}
			}
		}
	}

	sc.literal(reEmail, core.EntityEmail, 0.99)
	sc.literal(reURL, core.EntityURL, 0.95)
	sc.phones()
	for _, re := range reDates {
		sc.literal(re, core.EntityDate, 0.9)
	}
	sc.weekdays()
	sc.group(reTitled, core.EntityPerson, 0.85)
	sc.companies()
	sc.group(reProject, core.EntityProject, 0.75)
	sc.knownProducts()
	sc.references()
	sc.pronouns()
	sc.multiWord()
	sc.singleWords()

	sort.SliceStable(sc.found, func(i, j int) bool {
		return sc.found[i].Offset < sc.found[j].Offset
	})
	return sc.found
}

func (sc *scanner) free(start, end int) bool {
	for i := start; i < end; i++ {
		if sc.claimed[i] {
			return false
		}
	}
	return true
}

func (sc *scanner) claim(start, end int) {
	for i := start; i < end; i++ {
		sc.claimed[i] = true
	}
}

func (sc *scanner) add(start, end int, t core.EntityType, conf float64) {
	sc.found = append(sc.found, core.EntityMention{
		SurfaceText: sc.text[start:end],
		Type:        t,
		Offset:      start,
		Source:      core.SourceFast,
		Confidence:  conf,
	})
}

func (sc *scanner) literal(re *regexp.Regexp, t core.EntityType, conf float64) {
	for _, loc := range re.FindAllStringIndex(sc.text, -1) {
		start, end := loc[0], trimTrailingPunct(sc.text, loc[0], loc[1])
		if !sc.free(start, end) {
			continue
		}
		sc.claim(start, end)
		sc.add(start, end, t, conf)
	}
}

func (sc *scanner) phones() {
	for _, loc := range rePhone.FindAllStringIndex(sc.text, -1) {
		start, end := loc[0], loc[1]
		if len(digits(sc.text[start:end])) < 7 || reISO.MatchString(sc.text[start:end]) || !sc.free(start, end) {
			continue
		}
		sc.claim(start, end)
		sc.add(start, end, core.EntityPhone, 0.9)
	}
}

func (sc *scanner) weekdays() {
	for _, loc := range reWeekday.FindAllStringSubmatchIndex(sc.text, -1) {
		start, end := loc[2], loc[3]
		if start < 0 {
			start, end = loc[4], loc[5]
		}
		if !sc.free(loc[0], loc[1]) {
			continue
		}
		sc.claim(loc[0], loc[1])
		sc.add(start, end, core.EntityDate, 0.8)
	}
}

// group claims the whole match and records the first capture group.
func (sc *scanner) group(re *regexp.Regexp, t core.EntityType, conf float64) {
	for _, loc := range re.FindAllStringSubmatchIndex(sc.text, -1) {
		if !sc.free(loc[0], loc[1]) {
			continue
		}
		sc.claim(loc[0], loc[1])
		sc.add(loc[2], loc[3], t, conf)
	}
}

func (sc *scanner) companies() {
	for _, loc := range reCompany.FindAllStringSubmatchIndex(sc.text, -1) {
		start, end := sc.skipStopWords(loc[2], loc[3])
		if start >= end || !sc.free(start, end) {
			continue
		}
		// The suffix alone ("Corp") is not a name.
		if !strings.ContainsRune(strings.TrimSpace(sc.text[start:end]), ' ') {
			continue
		}
		sc.claim(start, loc[1])
		sc.add(start, end, core.EntityOrg, 0.8)
	}
}

func (sc *scanner) knownProducts() {
	lower := asciiLower(sc.text)
	for _, p := range sc.products {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		needle := asciiLower(p)
		for from := 0; ; {
			i := strings.Index(lower[from:], needle)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(needle)
			from = end
			if !wordBoundary(sc.text, start, end) || !sc.free(start, end) {
				continue
			}
			sc.claim(start, end)
			sc.add(start, end, core.EntityProduct, 0.8)
		}
	}
}

func (sc *scanner) references() {
	for _, loc := range reReference.FindAllStringIndex(sc.text, -1) {
		if !sc.free(loc[0], loc[1]) {
			continue
		}
		surface := strings.ToLower(sc.text[loc[0]:loc[1]])
		t := core.EntityOrg
		if strings.HasSuffix(surface, "project") {
			t = core.EntityProject
		}
		sc.claim(loc[0], loc[1])
		sc.add(loc[0], loc[1], t, 0.4)
	}
}

// pronouns adds personal pronouns for the recency tier to bind. "it" is left
// out: it is mostly expletive in speech.
func (sc *scanner) pronouns() {
	for _, loc := range rePronoun.FindAllStringIndex(sc.text, -1) {
		if !sc.free(loc[0], loc[1]) {
			continue
		}
		sc.claim(loc[0], loc[1])
		sc.add(loc[0], loc[1], core.EntityPerson, pronounConfidence)
	}
}

func (sc *scanner) multiWord() {
	for _, loc := range reMultiCap.FindAllStringIndex(sc.text, -1) {
		start, end := sc.skipStopWords(loc[0], loc[1])
		if start >= end || !sc.free(start, end) {
			continue
		}
		surface := sc.text[start:end]
		words := strings.Fields(surface)
		if len(words) < 2 {
			// Reduced to one word; the single-word rule decides.
			continue
		}
		t := core.EntityPerson
		if _, ok := locationKeywords[strings.ToLower(words[len(words)-1])]; ok {
			t = core.EntityLocation
		}
		sc.claim(start, end)
		sc.add(start, end, t, 0.6)
	}
}

func (sc *scanner) singleWords() {
	for _, loc := range reSingleCap.FindAllStringIndex(sc.text, -1) {
		start, end := loc[0], loc[1]
		if !sc.free(start, end) || sc.isStop(sc.text[start:end]) || sentenceInitial(sc.text, start) {
			continue
		}
		sc.claim(start, end)
		sc.add(start, end, core.EntityPerson, 0.5)
	}
}

// skipStopWords moves start past leading stop words such as verbs and greetings.
func (sc *scanner) skipStopWords(start, end int) (int, int) {
	for start < end {
		next := strings.IndexByte(sc.text[start:end], ' ')
		if next < 0 {
			if sc.isStop(sc.text[start:end]) {
				return end, end
			}
			return start, end
		}
		if !sc.isStop(sc.text[start : start+next]) {
			return start, end
		}
		start += next
		for start < end && sc.text[start] == ' ' {
			start++
		}
	}
	return start, end
}

func (sc *scanner) isStop(word string) bool {
	_, ok := sc.stop[strings.ToLower(word)]
	return ok
}

// sentenceInitial reports whether only whitespace separates start from the
// beginning of text, a line break or a sentence terminator.
func sentenceInitial(text string, start int) bool {
	for i := start - 1; i >= 0; i-- {
		c := text[i]
		switch {
		case c == '\n' || c == '.' || c == '!' || c == '?':
			return true
		case c == ' ' || c == '\t' || c == '"' || c == '\'':
			continue
		default:
			return false
		}
	}
	return true
}

func wordBoundary(text string, start, end int) bool {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	if start > 0 && isWord(rune(text[start-1])) {
		return false
	}
	if end < len(text) && isWord(rune(text[end])) {
		return false
	}
	return true
}

func trimTrailingPunct(text string, start, end int) int {
	for end > start && strings.ContainsRune(".,;:!?)'\"", rune(text[end-1])) {
		end--
	}
	return end
}

// asciiLower lower-cases ASCII letters only, so byte offsets stay valid.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
