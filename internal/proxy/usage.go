package proxy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Usage is the token accounting extracted from an upstream response
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// usageBlock covers both dialects; absent fields decode to nil
type usageBlock struct {
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
	InputTokens      *int64 `json:"input_tokens"`
	OutputTokens     *int64 `json:"output_tokens"`
}

type usageEnvelope struct {
	Type    string      `json:"type"`
	Usage   *usageBlock `json:"usage"`
	Message *struct {
		Usage *usageBlock `json:"usage"`
	} `json:"message"`
}

// ParseUsage extracts token usage from a single-shot completion body
func ParseUsage(dialect string, body []byte) (Usage, error) {
	var env usageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Usage{}, fmt.Errorf("decode completion body: %w", err)
	}
	if env.Usage == nil {
		return Usage{}, fmt.Errorf("completion body has no usage block")
	}

	var u Usage
	switch dialect {
	case DialectAnthropic:
		u.InputTokens = deref(env.Usage.InputTokens)
		u.OutputTokens = deref(env.Usage.OutputTokens)
	default:
		u.InputTokens = deref(env.Usage.PromptTokens)
		u.OutputTokens = deref(env.Usage.CompletionTokens)
		u.TotalTokens = deref(env.Usage.TotalTokens)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u, nil
}

// ParseStreamUsage extracts token usage from an accumulated SSE stream.
// Events without a usage block are skipped; usage across events is summed,
// which handles both the single final OpenAI usage chunk and Anthropic's
// split between message_start and message_delta.
func ParseStreamUsage(dialect string, body []byte) (Usage, error) {
	var u Usage
	found := false

	for _, event := range strings.Split(string(body), "\n\n") {
		payload := dataPayload(event)
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var env usageEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			// Providers interleave comment/ping payloads; skip quietly.
			continue
		}

		switch dialect {
		case DialectAnthropic:
			switch env.Type {
			case "message_start":
				if env.Message != nil && env.Message.Usage != nil {
					u.InputTokens += deref(env.Message.Usage.InputTokens)
					found = true
				}
			case "message_delta":
				if env.Usage != nil {
					u.OutputTokens += deref(env.Usage.OutputTokens)
					found = true
				}
			}
		default:
			if env.Usage != nil {
				u.InputTokens += deref(env.Usage.PromptTokens)
				u.OutputTokens += deref(env.Usage.CompletionTokens)
				u.TotalTokens += deref(env.Usage.TotalTokens)
				found = true
			}
		}
	}

	if !found {
		return Usage{}, fmt.Errorf("stream contained no usage events")
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u, nil
}

// dataPayload returns the concatenated data lines of one SSE event,
// or "" when the event carries none
func dataPayload(event string) string {
	var parts []string
	for _, line := range strings.Split(event, "\n") {
		line = strings.TrimRight(line, "\r")
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			parts = append(parts, strings.TrimPrefix(rest, " "))
		}
	}
	return strings.Join(parts, "\n")
}

func deref(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
