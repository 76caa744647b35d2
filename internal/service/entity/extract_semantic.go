package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/providers/llm"
	"github.com/sandevgo/percept/pkg/log"
	"github.com/sandevgo/percept/pkg/tokens"
)

const semanticConfidence = 0.7

type extractedEntity struct {
	Text   string `json:"text"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
}

func buildExtractionPrompt(text string) string {
	return fmt.Sprintf(
		`Extract named entities from the transcript. Output format: JSON list of objects {text, type, offset}. Types: [person, org, project, product, location, event]. Rules: 1. text must be copied exactly from the transcript. 2. offset is the character position of the first occurrence. 3. Skip generic nouns. 4. Include personal pronouns (he, she, they and their object forms) with type person. Transcript: %s`,
		text,
	)
}

func (e *Extractor) semanticPass(ctx context.Context, text string) ([]core.EntityMention, error) {
	s := e.settings.Current().Entities

	input, cut := tokens.Truncate(text, s.SemanticMaxTokens)
	if cut {
		log.FromCtx(ctx).Debug().Int("max_tokens", s.SemanticMaxTokens).Msg("semantic pass input truncated")
	}

	ctx, cancel := context.WithTimeout(ctx, s.SemanticTimeout)
	defer cancel()

	resp, err := e.ai.Chat(ctx, []core.Message{
		{Role: core.RoleUser, Content: buildExtractionPrompt(input)},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic extraction: %w", err)
	}

	var items []extractedEntity
	if err := llm.DecodeArray(resp.Content, &items); err != nil {
		return nil, fmt.Errorf("parse semantic extraction: %w", err)
	}
	return anchorMentions(text, items), nil
}

// anchorMentions keeps items whose text really occurs in the transcript and
// whose type is known, fixing offsets the model got wrong.
func anchorMentions(text string, items []extractedEntity) []core.EntityMention {
	out := make([]core.EntityMention, 0, len(items))
	for _, it := range items {
		surface := strings.TrimSpace(it.Text)
		t, ok := core.ParseEntityType(it.Type)
		if !ok || surface == "" {
			continue
		}

		offset := it.Offset
		if offset < 0 || offset+len(surface) > len(text) || text[offset:offset+len(surface)] != surface {
			offset = strings.Index(text, surface)
		}
		if offset < 0 {
			continue
		}

		out = append(out, core.EntityMention{
			SurfaceText: surface,
			Type:        t,
			Offset:      offset,
			Source:      core.SourceSemantic,
			Confidence:  semanticConfidence,
		})
	}
	return out
}
