package proxy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUsage(t *testing.T) {
	t.Run("openai single shot", func(t *testing.T) {
		body := []byte(`{
			"id": "chatcmpl-1",
			"choices": [{"message": {"content": "hi"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46}
		}`)

		u, err := ParseUsage(DialectOpenAI, body)
		require.NoError(t, err)
		assert.Equal(t, int64(12), u.InputTokens)
		assert.Equal(t, int64(34), u.OutputTokens)
		assert.Equal(t, int64(46), u.TotalTokens)
	})

	t.Run("anthropic single shot", func(t *testing.T) {
		body := []byte(`{
			"id": "msg_1",
			"content": [{"type": "text", "text": "hi"}],
			"usage": {"input_tokens": 20, "output_tokens": 5}
		}`)

		u, err := ParseUsage(DialectAnthropic, body)
		require.NoError(t, err)
		assert.Equal(t, int64(20), u.InputTokens)
		assert.Equal(t, int64(5), u.OutputTokens)
		assert.Equal(t, int64(25), u.TotalTokens)
	})

	t.Run("missing usage block", func(t *testing.T) {
		_, err := ParseUsage(DialectOpenAI, []byte(`{"id": "chatcmpl-1"}`))
		assert.Error(t, err)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := ParseUsage(DialectOpenAI, []byte(`not json`))
		assert.Error(t, err)
	})
}

func TestParseStreamUsage(t *testing.T) {
	t.Run("openai final usage chunk", func(t *testing.T) {
		stream := strings.Join([]string{
			`data: {"choices":[{"delta":{"content":"he"}}],"usage":null}`,
			`data: {"choices":[{"delta":{"content":"llo"}}],"usage":null}`,
			`data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
			`data: [DONE]`,
			``,
		}, "\n\n")

		u, err := ParseStreamUsage(DialectOpenAI, []byte(stream))
		require.NoError(t, err)
		assert.Equal(t, int64(9), u.InputTokens)
		assert.Equal(t, int64(2), u.OutputTokens)
		assert.Equal(t, int64(11), u.TotalTokens)
	})

	t.Run("anthropic summed halves", func(t *testing.T) {
		stream := strings.Join([]string{
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":30,\"output_tokens\":1}}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":17}}",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}",
			"",
		}, "\n\n")

		u, err := ParseStreamUsage(DialectAnthropic, []byte(stream))
		require.NoError(t, err)
		assert.Equal(t, int64(30), u.InputTokens)
		assert.Equal(t, int64(17), u.OutputTokens)
		assert.Equal(t, int64(47), u.TotalTokens)
	})

	t.Run("crlf line endings", func(t *testing.T) {
		stream := "data: {\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":4,\"total_tokens\":7}}\r\n\r\ndata: [DONE]\r\n"

		u, err := ParseStreamUsage(DialectOpenAI, []byte(stream))
		require.NoError(t, err)
		assert.Equal(t, int64(7), u.TotalTokens)
	})

	t.Run("no usage events", func(t *testing.T) {
		stream := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n"
		_, err := ParseStreamUsage(DialectOpenAI, []byte(stream))
		assert.Error(t, err)
	})

	t.Run("ping payloads are skipped", func(t *testing.T) {
		stream := strings.Join([]string{
			`data: ping`,
			`data: {"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`,
			``,
		}, "\n\n")

		u, err := ParseStreamUsage(DialectOpenAI, []byte(stream))
		require.NoError(t, err)
		assert.Equal(t, int64(2), u.TotalTokens)
	})
}

func TestInjectIncludeUsage(t *testing.T) {
	t.Run("adds stream_options", func(t *testing.T) {
		out := injectIncludeUsage([]byte(`{"model":"gpt-4o","stream":true}`))

		var req map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &req))
		assert.JSONEq(t, `{"include_usage":true}`, string(req["stream_options"]))
		assert.Equal(t, `"gpt-4o"`, string(req["model"]))
	})

	t.Run("merges into existing stream_options", func(t *testing.T) {
		out := injectIncludeUsage([]byte(`{"model":"gpt-4o","stream_options":{"other":1}}`))

		var req map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &req))
		assert.JSONEq(t, `{"include_usage":true,"other":1}`, string(req["stream_options"]))
	})

	t.Run("malformed body passes through", func(t *testing.T) {
		body := []byte(`garbage`)
		assert.Equal(t, body, injectIncludeUsage(body))
	})
}

func TestInspectRequest(t *testing.T) {
	model, streaming := inspectRequest([]byte(`{"model":"claude-sonnet-4-20250514","stream":true}`))
	assert.Equal(t, "claude-sonnet-4-20250514", model)
	assert.True(t, streaming)

	model, streaming = inspectRequest([]byte(`{"model":"gpt-4o"}`))
	assert.Equal(t, "gpt-4o", model)
	assert.False(t, streaming)

	model, streaming = inspectRequest([]byte(`garbage`))
	assert.Empty(t, model)
	assert.False(t, streaming)
}
