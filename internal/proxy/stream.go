package proxy

import "encoding/json"

// blockType is the kind of Anthropic content block currently open in a
// StreamConverter, if any.
type blockType int

const (
	typeNone blockType = iota
	typeText
	typeThinking
	typeToolUse
)

// deltaKind is the explicit sum type a raw GeminiDelta is classified into
// before the state machine acts on it. Keeping this as its own type (rather
// than branching on GeminiDelta's optional fields directly inside the state
// machine) is the one structural change this package makes over the
// upstream wire shape: the delta really is a tagged union, so it gets typed
// as one.
type deltaKind int

const (
	deltaEmpty deltaKind = iota
	deltaFunctionCall
	deltaTrailingSignature
	deltaThinking
	deltaText
)

// classifyDelta turns a raw GeminiDelta into the event kind driving the
// state machine's next transition.
func classifyDelta(d GeminiDelta) deltaKind {
	if d.FunctionCall != nil {
		return deltaFunctionCall
	}
	if d.Content == "" && d.ThoughtSignature != "" && !d.Thought {
		return deltaTrailingSignature
	}
	if d.Thought {
		return deltaThinking
	}
	if d.Content != "" {
		return deltaText
	}
	return deltaEmpty
}

// StreamConverter consumes Gemini streaming chunks and emits the Anthropic
// SSE event sequence (component G). One converter is owned exclusively by a
// single request; its state is never touched concurrently.
type StreamConverter struct {
	messageID string
	model     string

	blockIndex         int
	currentType        blockType
	pendingSignature   string
	trailingSignature  string
	usedTool           bool
	messageStartSent   bool
	messageStopSent    bool
	hasContent         bool
}

// NewStreamConverter builds a converter for one request/response cycle.
func NewStreamConverter(messageID, model string) *StreamConverter {
	return &StreamConverter{messageID: messageID, model: model}
}

// Start returns the message_start event. Call exactly once, before
// processing any chunks.
func (c *StreamConverter) Start() StreamEvent {
	c.messageStartSent = true
	return StreamEvent{
		Name: EventMessageStart,
		Data: MessageStartPayload{
			Type: EventMessageStart,
			Message: MessageEnvelope{
				ID:           c.messageID,
				Type:         "message",
				Role:         "assistant",
				Model:        c.model,
				Content:      []any{},
				StopReason:   nil,
				StopSequence: nil,
				Usage:        MessageUsage{InputTokens: 0, OutputTokens: 0},
			},
		},
	}
}

// ProcessChunk advances the state machine by one Gemini streaming chunk,
// returning the Anthropic SSE events it produces. Malformed chunks (no
// choices) produce no events and no state change.
func (c *StreamConverter) ProcessChunk(chunk GeminiStreamChunk) []StreamEvent {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []StreamEvent
	switch classifyDelta(choice.Delta) {
	case deltaFunctionCall:
		events = append(events, c.processFunctionCall(choice.Delta)...)
	case deltaTrailingSignature:
		c.trailingSignature = choice.Delta.ThoughtSignature
	case deltaThinking:
		events = append(events, c.processThinking(choice.Delta)...)
	case deltaText:
		events = append(events, c.processText(choice.Delta)...)
	case deltaEmpty:
		// no events
	}

	if choice.FinishReason != "" {
		events = append(events, c.processFinish(choice.FinishReason, chunk.Usage)...)
	}

	return events
}

// Finalize synthesizes the terminal message_delta + message_stop pair when
// the upstream stream ends without ever sending a finish_reason (a dropped
// connection, say), so a client is never left hanging mid-stream. A no-op if
// the terminal events were already emitted normally.
func (c *StreamConverter) Finalize() []StreamEvent {
	if c.messageStopSent {
		return nil
	}
	return c.processFinish("STOP", nil)
}

func (c *StreamConverter) processFunctionCall(d GeminiDelta) []StreamEvent {
	var events []StreamEvent
	if c.trailingSignature != "" {
		events = append(events, c.emitTrailingSignatureBlock()...)
	}
	events = append(events, c.endBlock()...)

	id := d.FunctionCall.ID
	if id == "" {
		id = generateToolUseID(d.FunctionCall.Name)
	}

	block := BlockStartContent{
		Type:  BlockToolUse,
		ID:    id,
		Name:  d.FunctionCall.Name,
		Input: json.RawMessage("{}"),
	}
	if d.ThoughtSignature != "" {
		block.Signature = d.ThoughtSignature
	}

	events = append(events, StreamEvent{
		Name: EventContentBlockStart,
		Data: ContentBlockStartPayload{Type: EventContentBlockStart, Index: c.blockIndex, ContentBlock: block},
	})
	c.currentType = typeToolUse
	c.hasContent = true
	c.usedTool = true

	args := d.FunctionCall.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	events = append(events, StreamEvent{
		Name: EventContentBlockDelta,
		Data: ContentBlockDeltaPayload{
			Type:  EventContentBlockDelta,
			Index: c.blockIndex,
			Delta: BlockDelta{Type: DeltaInputJSON, PartialJSON: string(args)},
		},
	})

	return events
}

func (c *StreamConverter) processThinking(d GeminiDelta) []StreamEvent {
	var events []StreamEvent
	if c.trailingSignature != "" {
		events = append(events, c.emitTrailingSignatureBlock()...)
	}

	if c.currentType != typeThinking {
		if c.currentType != typeNone {
			events = append(events, c.endBlock()...)
		}
		events = append(events, c.openBlock(typeThinking)...)
	}

	if d.Content != "" {
		events = append(events, StreamEvent{
			Name: EventContentBlockDelta,
			Data: ContentBlockDeltaPayload{
				Type:  EventContentBlockDelta,
				Index: c.blockIndex,
				Delta: BlockDelta{Type: DeltaThinking, Thinking: d.Content},
			},
		})
	}

	if d.ThoughtSignature != "" {
		c.pendingSignature = d.ThoughtSignature
	}

	return events
}

func (c *StreamConverter) processText(d GeminiDelta) []StreamEvent {
	var events []StreamEvent
	if c.trailingSignature != "" {
		events = append(events, c.emitTrailingSignatureBlock()...)
	}

	if d.ThoughtSignature != "" {
		return c.processTextWithSignature(d, events)
	}

	if c.currentType == typeThinking {
		events = append(events, c.endBlock()...)
	}
	if c.currentType == typeNone {
		events = append(events, c.openBlock(typeText)...)
	}
	events = append(events, StreamEvent{
		Name: EventContentBlockDelta,
		Data: ContentBlockDeltaPayload{
			Type:  EventContentBlockDelta,
			Index: c.blockIndex,
			Delta: BlockDelta{Type: DeltaText, Text: d.Content},
		},
	})
	return events
}

// processTextWithSignature implements the text+signature split: a text
// block carrying the whole delta, closed immediately, followed by a sibling
// empty thinking block carrying the signature — Anthropic's schema has no
// signature field on text blocks.
func (c *StreamConverter) processTextWithSignature(d GeminiDelta, events []StreamEvent) []StreamEvent {
	if c.currentType != typeNone {
		events = append(events, c.endBlock()...)
	}
	events = append(events, c.openBlock(typeText)...)
	events = append(events, StreamEvent{
		Name: EventContentBlockDelta,
		Data: ContentBlockDeltaPayload{
			Type:  EventContentBlockDelta,
			Index: c.blockIndex,
			Delta: BlockDelta{Type: DeltaText, Text: d.Content},
		},
	})
	events = append(events, c.endBlock()...)
	events = append(events, c.emitSignatureOnlyThinkingBlock(d.ThoughtSignature)...)
	return events
}

func (c *StreamConverter) processFinish(reason string, usage *GeminiStreamUsage) []StreamEvent {
	if c.messageStopSent {
		return nil
	}

	var events []StreamEvent
	events = append(events, c.endBlock()...)
	if c.trailingSignature != "" {
		events = append(events, c.emitTrailingSignatureBlock()...)
	}

	events = append(events, StreamEvent{
		Name: EventMessageDelta,
		Data: MessageDeltaPayload{
			Type:  EventMessageDelta,
			Delta: MessageDeltaInner{StopReason: mapStopReason(reason, c.usedTool)},
			Usage: MessageUsage{OutputTokens: usage.OutputTokenCount()},
		},
	})
	events = append(events, StreamEvent{Name: EventMessageStop, Data: MessageStopPayload{Type: EventMessageStop}})
	c.messageStopSent = true

	return events
}

// openBlock opens a fresh block of kind t at the current index.
func (c *StreamConverter) openBlock(t blockType) []StreamEvent {
	var block BlockStartContent
	switch t {
	case typeText:
		block = BlockStartContent{Type: BlockText, Text: ""}
	case typeThinking:
		block = BlockStartContent{Type: BlockThinking, Thinking: ""}
	}
	c.currentType = t
	c.hasContent = true
	return []StreamEvent{{
		Name: EventContentBlockStart,
		Data: ContentBlockStartPayload{Type: EventContentBlockStart, Index: c.blockIndex, ContentBlock: block},
	}}
}

// endBlock closes the currently open block, if any, flushing a pending
// thinking signature first.
func (c *StreamConverter) endBlock() []StreamEvent {
	if c.currentType == typeNone {
		return nil
	}

	var events []StreamEvent
	if c.currentType == typeThinking && c.pendingSignature != "" {
		events = append(events, StreamEvent{
			Name: EventContentBlockDelta,
			Data: ContentBlockDeltaPayload{
				Type:  EventContentBlockDelta,
				Index: c.blockIndex,
				Delta: BlockDelta{Type: DeltaSignature, Signature: c.pendingSignature},
			},
		})
		c.pendingSignature = ""
	}

	events = append(events, StreamEvent{
		Name: EventContentBlockStop,
		Data: ContentBlockStopPayload{Type: EventContentBlockStop, Index: c.blockIndex},
	})
	c.blockIndex++
	c.currentType = typeNone
	return events
}

// emitSignatureOnlyThinkingBlock opens an empty thinking block, emits a
// zero-length thinking_delta, then closes it carrying sig as its
// signature_delta. Used both for a trailing standalone signature and for
// the signature half of a text+signature split.
func (c *StreamConverter) emitSignatureOnlyThinkingBlock(sig string) []StreamEvent {
	var events []StreamEvent
	events = append(events, c.openBlock(typeThinking)...)
	events = append(events, StreamEvent{
		Name: EventContentBlockDelta,
		Data: ContentBlockDeltaPayload{
			Type:  EventContentBlockDelta,
			Index: c.blockIndex,
			Delta: BlockDelta{Type: DeltaThinking, Thinking: ""},
		},
	})
	c.pendingSignature = sig
	events = append(events, c.endBlock()...)
	return events
}

// emitTrailingSignatureBlock closes the open block, if any, then emits the
// buffered trailing signature as its own empty thinking block.
func (c *StreamConverter) emitTrailingSignatureBlock() []StreamEvent {
	sig := c.trailingSignature
	c.trailingSignature = ""
	events := c.endBlock()
	return append(events, c.emitSignatureOnlyThinkingBlock(sig)...)
}

// mapStopReason implements the stop-reason table: a tool_use block always
// wins, regardless of the upstream finish reason.
func mapStopReason(reason string, usedTool bool) string {
	if usedTool {
		return StopToolUse
	}
	switch reason {
	case "length", "MAX_TOKENS":
		return StopMaxTokens
	case "stop", "STOP":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	default:
		return StopEndTurn
	}
}
