package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sandevgo/percept/internal/core"
)

type Anthropic struct {
	baseProvider
}

func NewAnthropic(apiKey, model string, timeout time.Duration) *Anthropic {
	return &Anthropic{
		baseProvider: newBaseProvider("https://api.anthropic.com", apiKey, model, timeout),
	}
}

func (a *Anthropic) Chat(ctx context.Context, history []core.Message) (core.Message, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	var (
		system   []string
		messages []msg
	)
	for _, m := range history {
		if m.Role == core.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, msg{Role: m.Role, Content: m.Content})
	}

	payload := map[string]any{
		"model":       a.model,
		"max_tokens":  2048,
		"temperature": 0,
		"messages":    messages,
	}
	if len(system) > 0 {
		payload["system"] = strings.Join(system, "\n\n")
	}

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}

	resp, err := a.doRequest(ctx, http.MethodPost, "/v1/messages", payload, headers)
	if err != nil {
		return core.Message{}, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return core.Message{}, err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return core.Message{}, fmt.Errorf("decode: %w", err)
	}

	var text string
	for _, c := range result.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return core.Message{Role: core.RoleAssistant, Content: text}, nil
}
