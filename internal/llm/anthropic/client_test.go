package anthropic

import (
	"context"
	"errors"
	"testing"

	"resume-optimizer/internal/llm"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDecoder 向 ssestream.Stream 依次提供固定事件
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

type stubMessagesClient struct {
	resp    *sdk.Message
	err     error
	events  []ssestream.Event
	streamE error
	params  []sdk.MessageNewParams
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.params = append(s.params, body)
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.params = append(s.params, body)
	dec := &testDecoder{events: s.events, err: s.streamE}
	return ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
}

func textDelta(text string) ssestream.Event {
	return ssestream.Event{
		Type: "content_block_delta",
		Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"` + text + `"}}`),
	}
}

func streamEvents(texts ...string) []ssestream.Event {
	events := []ssestream.Event{{
		Type: "message_start",
		Data: []byte(`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":1000,"output_tokens":1}}}`),
	}}
	for _, t := range texts {
		events = append(events, textDelta(t))
	}
	events = append(events,
		ssestream.Event{
			Type: "message_delta",
			Data: []byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2000}}`),
		},
		ssestream.Event{Type: "message_stop", Data: []byte(`{"type":"message_stop"}`)},
	)
	return events
}

func TestAgentStream(t *testing.T) {
	stub := &stubMessagesClient{events: streamEvents("Hello", ", ", "world")}
	agent, err := NewAgent(stub, Options{
		Model:   "claude-sonnet-4-5",
		Pricing: llm.Pricing{InputPerM: 3, OutputPerM: 15},
	})
	require.NoError(t, err)

	var fragments []string
	res, err := agent.Stream(context.Background(), llm.Request{System: "be brief", Prompt: "say hi"}, func(s string) {
		fragments = append(fragments, s)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", ", ", "world"}, fragments)
	assert.Equal(t, "Hello, world", res.Text)
	assert.Equal(t, 12, res.TotalChars)
	assert.Equal(t, "claude-sonnet-4-5", res.Model)
	assert.Equal(t, int64(1000), res.InputTokens)
	assert.Equal(t, int64(2000), res.OutputTokens)
	assert.InDelta(t, 0.003+0.03, res.Cost, 1e-9)

	require.Len(t, stub.params, 1)
	p := stub.params[0]
	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), p.Model)
	assert.Equal(t, int64(4096), p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.Equal(t, "be brief", p.System[0].Text)
	require.Len(t, p.Messages, 1)
}

func TestAgentStreamError(t *testing.T) {
	stub := &stubMessagesClient{events: streamEvents("partial"), streamE: errors.New("connection reset")}
	agent, err := NewAgent(stub, Options{Model: "m"})
	require.NoError(t, err)

	_, err = agent.Stream(context.Background(), llm.Request{Prompt: "x", MaxTokens: 10}, nil)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, int64(10), stub.params[0].MaxTokens)
}

func TestNewAgentValidation(t *testing.T) {
	_, err := NewAgent(nil, Options{Model: "m"})
	assert.Error(t, err)
	_, err = NewAgent(&stubMessagesClient{}, Options{})
	assert.Error(t, err)
	_, err = NewMessagesClient("")
	assert.Error(t, err)
}
