package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Settings is the hot-reloadable domain configuration.
// Every recognized option is listed here; DefaultSettings holds the defaults.
type Settings struct {
	WakePhrases    []string      `yaml:"wake_phrases"`
	OwnerSpeakers  []string      `yaml:"owner_speakers"`
	ReloadInterval time.Duration `yaml:"reload_interval"`

	Session    SessionSettings    `yaml:"session"`
	Intent     IntentSettings     `yaml:"intent"`
	Entities   EntitySettings     `yaml:"entities"`
	Resolution ResolutionSettings `yaml:"resolution"`
	Graph      GraphSettings      `yaml:"graph"`
	Context    ContextSettings    `yaml:"context"`
	Summary    SummarySettings    `yaml:"summary"`
	Retention  RetentionSettings  `yaml:"retention"`
	Auth       AuthSettings       `yaml:"auth"`
}

type SessionSettings struct {
	CommandSilence      time.Duration `yaml:"command_silence"`
	ConversationSilence time.Duration `yaml:"conversation_silence"`
	ContinuationWindow  time.Duration `yaml:"continuation_window"`
}

type IntentSettings struct {
	LLMFallback    bool          `yaml:"llm_fallback"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	HumanThreshold float64       `yaml:"human_threshold"`
}

type EntitySettings struct {
	SemanticPass      bool          `yaml:"semantic_pass"`
	SemanticTimeout   time.Duration `yaml:"semantic_timeout"`
	SemanticMaxTokens int           `yaml:"semantic_max_tokens"`
	KnownProducts     []string      `yaml:"known_products"`
}

type ResolutionSettings struct {
	FuzzyThreshold   float64       `yaml:"fuzzy_threshold"`
	AutoThreshold    float64       `yaml:"auto_threshold"`
	SoftThreshold    float64       `yaml:"soft_threshold"`
	SemanticMinScore float64       `yaml:"semantic_min_score"`
	SemanticTimeout  time.Duration `yaml:"semantic_timeout"`
	RecencyWindow    int           `yaml:"recency_window"`
}

type GraphSettings struct {
	Increment     float64       `yaml:"increment"`
	DecayRate     float64       `yaml:"decay_rate"`
	Staleness     time.Duration `yaml:"staleness"`
	DecaySchedule string        `yaml:"decay_schedule"`
}

type ContextSettings struct {
	RecentLimit   int           `yaml:"recent_limit"`
	SnippetLength int           `yaml:"snippet_length"`
	RecentWindow  time.Duration `yaml:"recent_window"`
}

type SummarySettings struct {
	MinUtterances int           `yaml:"min_utterances"`
	MinWords      int           `yaml:"min_words"`
	UseLLM        bool          `yaml:"use_llm"`
	LLMTimeout    time.Duration `yaml:"llm_timeout"`
	MaxTopics     int           `yaml:"max_topics"`
}

type RetentionSettings struct {
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"`
}

type AuthSettings struct {
	RequireApprovedSpeaker bool `yaml:"require_approved_speaker"`
}

func DefaultSettings() *Settings {
	return &Settings{
		WakePhrases:    []string{"hey jarvis", "jarvis"},
		OwnerSpeakers:  []string{"SPEAKER_0", "SPEAKER_00"},
		ReloadInterval: 60 * time.Second,
		Session: SessionSettings{
			CommandSilence:      3 * time.Second,
			ConversationSilence: 60 * time.Second,
			ContinuationWindow:  10 * time.Second,
		},
		Intent: IntentSettings{
			LLMFallback:    true,
			LLMTimeout:     15 * time.Second,
			CacheTTL:       5 * time.Minute,
			HumanThreshold: 0.5,
		},
		Entities: EntitySettings{
			SemanticPass:      false,
			SemanticTimeout:   15 * time.Second,
			SemanticMaxTokens: 2000,
		},
		Resolution: ResolutionSettings{
			FuzzyThreshold:   0.85,
			AutoThreshold:    0.8,
			SoftThreshold:    0.5,
			SemanticMinScore: 0.75,
			SemanticTimeout:  5 * time.Second,
			RecencyWindow:    20,
		},
		Graph: GraphSettings{
			Increment:     1.0,
			DecayRate:     0.1,
			Staleness:     7 * 24 * time.Hour,
			DecaySchedule: "@daily",
		},
		Context: ContextSettings{
			RecentLimit:   10,
			SnippetLength: 200,
			RecentWindow:  30 * time.Minute,
		},
		Summary: SummarySettings{
			MinUtterances: 3,
			MinWords:      20,
			UseLLM:        false,
			LLMTimeout:    30 * time.Second,
			MaxTopics:     5,
		},
		Retention: RetentionSettings{
			Days:     90,
			Schedule: "@daily",
		},
	}
}

// Validate checks ranges and normalizes list options in place.
// Wake phrases are lower-cased, deduplicated and ordered longest first.
func (s *Settings) Validate() error {
	var errs []error

	s.WakePhrases = normalizePhrases(s.WakePhrases)
	if len(s.WakePhrases) == 0 {
		errs = append(errs, errors.New("wake_phrases: at least one phrase required"))
	}

	positive := map[string]time.Duration{
		"reload_interval":              s.ReloadInterval,
		"session.command_silence":      s.Session.CommandSilence,
		"session.conversation_silence": s.Session.ConversationSilence,
		"intent.llm_timeout":           s.Intent.LLMTimeout,
		"intent.cache_ttl":             s.Intent.CacheTTL,
		"entities.semantic_timeout":    s.Entities.SemanticTimeout,
		"resolution.semantic_timeout":  s.Resolution.SemanticTimeout,
		"graph.staleness":              s.Graph.Staleness,
		"summary.llm_timeout":          s.Summary.LLMTimeout,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, positive[name]))
		}
	}
	if s.Session.ContinuationWindow < 0 {
		errs = append(errs, errors.New("session.continuation_window: must not be negative"))
	}

	unit := map[string]float64{
		"intent.human_threshold":        s.Intent.HumanThreshold,
		"resolution.fuzzy_threshold":    s.Resolution.FuzzyThreshold,
		"resolution.auto_threshold":     s.Resolution.AutoThreshold,
		"resolution.soft_threshold":     s.Resolution.SoftThreshold,
		"resolution.semantic_min_score": s.Resolution.SemanticMinScore,
	}
	for _, name := range sortedKeys(unit) {
		if v := unit[name]; v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s: must be within [0,1], got %v", name, v))
		}
	}
	if s.Resolution.SoftThreshold >= s.Resolution.AutoThreshold {
		errs = append(errs, fmt.Errorf("resolution: soft_threshold %v must be below auto_threshold %v",
			s.Resolution.SoftThreshold, s.Resolution.AutoThreshold))
	}

	if s.Graph.Increment <= 0 {
		errs = append(errs, errors.New("graph.increment: must be positive"))
	}
	if s.Graph.DecayRate < 0 {
		errs = append(errs, errors.New("graph.decay_rate: must not be negative"))
	}
	if _, err := cron.ParseStandard(s.Graph.DecaySchedule); err != nil {
		errs = append(errs, fmt.Errorf("graph.decay_schedule: %w", err))
	}
	if _, err := cron.ParseStandard(s.Retention.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("retention.schedule: %w", err))
	}

	if s.Entities.SemanticMaxTokens <= 0 {
		errs = append(errs, errors.New("entities.semantic_max_tokens: must be positive"))
	}
	if s.Resolution.RecencyWindow <= 0 {
		errs = append(errs, errors.New("resolution.recency_window: must be positive"))
	}
	if s.Context.RecentLimit < 0 || s.Context.SnippetLength <= 0 {
		errs = append(errs, errors.New("context: recent_limit must be >= 0 and snippet_length > 0"))
	}
	if s.Retention.Days < 0 {
		errs = append(errs, errors.New("retention.days: must not be negative"))
	}

	return errors.Join(errs...)
}

// IsOwner reports whether speakerID is one of the configured owner ids.
func (s *Settings) IsOwner(speakerID string) bool {
	for _, id := range s.OwnerSpeakers {
		if strings.EqualFold(id, speakerID) {
			return true
		}
	}
	return false
}

// ParseSettings decodes YAML, or JSON/JSONC when ext says so, on top of the defaults.
func ParseSettings(data []byte, ext string) (*Settings, error) {
	s := DefaultSettings()

	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		var generic map[string]any
		if err := json.Unmarshal(jsonc.ToJSON(data), &generic); err != nil {
			return nil, fmt.Errorf("parse settings json: %w", err)
		}
		// Re-encode through yaml so durations like "3s" decode the same way for both formats.
		var err error
		if data, err = yaml.Marshal(generic); err != nil {
			return nil, fmt.Errorf("re-encode settings: %w", err)
		}
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func LoadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSettings(data, filepath.Ext(path))
}

// WriteDefaultSettings renders the defaults as YAML at path.
func WriteDefaultSettings(path string) error {
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func normalizePhrases(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.Join(strings.Fields(strings.ToLower(p)), " ")
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i]) > len(out[j])
	})
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
