// Package proxy implements the protocol-translation core: request
// translation, streaming conversion, model mapping, schema sanitization,
// retry policy, thought-signature caching, and multi-account token
// management between an Anthropic-shaped client and a Gemini-shaped
// upstream.
package proxy

import "encoding/json"

///////////////////////////////////////////////////////////////////////////
// ANTHROPIC WIRE FORMAT (client-facing)

// Request is the body of POST /v1/messages.
type Request struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// ThinkingConfig requests extended-thinking output.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Tool is a client-declared tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolWebSearch is the reserved tool name that maps to the upstream's
// built-in search grounding tool rather than a user function declaration.
const ToolWebSearch = "web_search"

// Message is one turn in the conversation.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Content block type discriminators.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is the union of every block shape a Message.Content array
// entry can take. Fields are populated according to Type; the rest stay at
// their zero value, matching the flattened-variant style used throughout
// the retrieved Anthropic wire-format references.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource carries inline base64 image data.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

///////////////////////////////////////////////////////////////////////////
// GEMINI WIRE FORMAT (upstream-facing)

// GeminiRequest is the body sent to the upstream generateContent /
// streamGenerateContent endpoint.
type GeminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	Tools             []GeminiTool           `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig      `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting        `json:"safetySettings,omitempty"`
}

// GeminiContent is one turn of the translated conversation.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart carries exactly one of its non-zero fields.
type GeminiPart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *GeminiInlineData `json:"inlineData,omitempty"`
	FunctionCall     *GeminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

// GeminiInlineData is a base64 media payload.
type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiFunctionCall is a model-issued tool invocation.
type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
	ID   string          `json:"id,omitempty"`
}

// GeminiFunctionResponse carries the client-executed tool's result back to
// the model.
type GeminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
	ID       string          `json:"id,omitempty"`
}

// GeminiTool is one entry of the upstream "tools" array: either a set of
// function declarations or the built-in google search tool.
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *GeminiGoogleSearch         `json:"googleSearch,omitempty"`
}

// GeminiFunctionDeclaration is one sanitized tool schema.
type GeminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GeminiGoogleSearch enables upstream search grounding, forced in place of
// any user tool declarations whenever the client asked for "web_search".
type GeminiGoogleSearch struct {
	EnhancedContent GeminiSearchEnhancedContent `json:"enhancedContent"`
}

// GeminiSearchEnhancedContent is the fixed shape required alongside
// GoogleSearch.
type GeminiSearchEnhancedContent struct {
	ImageSearch GeminiImageSearch `json:"imageSearch"`
}

// GeminiImageSearch bounds the number of images the search tool may return.
type GeminiImageSearch struct {
	MaxResultCount int `json:"maxResultCount"`
}

// GenerationConfig is the upstream generation-parameters object built by the
// Config Builder.
type GenerationConfig struct {
	Temperature     float64         `json:"temperature"`
	TopP            float64         `json:"topP"`
	MaxOutputTokens int             `json:"maxOutputTokens"`
	CandidateCount  int             `json:"candidateCount"`
	ThinkingConfig  *ThinkingBudget `json:"thinkingConfig,omitempty"`
}

// ThinkingBudget is the upstream shape for extended-thinking parameters.
type ThinkingBudget struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// SafetySetting disables one upstream content-safety category.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

///////////////////////////////////////////////////////////////////////////
// GEMINI STREAMING CHUNK (upstream-facing, incremental)

// GeminiStreamChunk is one streamGenerateContent SSE payload.
type GeminiStreamChunk struct {
	Choices []GeminiStreamChoice `json:"choices"`
	Usage   *GeminiStreamUsage   `json:"usage,omitempty"`
}

// GeminiStreamChoice wraps one delta plus an optional terminal finish
// reason.
type GeminiStreamChoice struct {
	Delta        GeminiDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// GeminiDelta is the raw incremental-event payload as received on the wire.
// It is intentionally untyped at the JSON-tag level (every field optional)
// because the upstream multiplexes several logically distinct event kinds
// into one object shape; classifyDelta (in stream.go) turns this into the
// explicit sum type the state machine actually switches on.
type GeminiDelta struct {
	Content          string              `json:"content,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	ThoughtSignature string              `json:"thoughtSignature,omitempty"`
	FunctionCall     *GeminiFunctionCall `json:"functionCall,omitempty"`
}

// GeminiStreamUsage reports token counts, accepting either field name the
// upstream has been observed to use.
type GeminiStreamUsage struct {
	CompletionTokens int `json:"completion_tokens,omitempty"`
	OutputTokens     int `json:"output_tokens,omitempty"`
}

// OutputTokenCount returns whichever usage field is populated, defaulting
// to zero.
func (u *GeminiStreamUsage) OutputTokenCount() int {
	if u == nil {
		return 0
	}
	if u.CompletionTokens != 0 {
		return u.CompletionTokens
	}
	return u.OutputTokens
}

///////////////////////////////////////////////////////////////////////////
// ANTHROPIC SSE EVENT SCHEMA (emitted)

// Event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// Delta type discriminators inside content_block_delta.
const (
	DeltaText       = "text_delta"
	DeltaThinking   = "thinking_delta"
	DeltaSignature  = "signature_delta"
	DeltaInputJSON  = "input_json_delta"
)

// Stop reasons.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// StreamEvent is one emitted SSE frame: a name and its JSON-serializable
// payload.
type StreamEvent struct {
	Name string
	Data any
}

// MessageStartPayload is the message_start event body.
type MessageStartPayload struct {
	Type    string         `json:"type"`
	Message MessageEnvelope `json:"message"`
}

// MessageEnvelope is the "message" object inside message_start.
type MessageEnvelope struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []any          `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        MessageUsage   `json:"usage"`
}

// MessageUsage reports token counts for message_start/message_delta.
type MessageUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ContentBlockStartPayload is the content_block_start event body.
type ContentBlockStartPayload struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock BlockStartContent `json:"content_block"`
}

// BlockStartContent is the opened block's initial shape.
type BlockStartContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

// MarshalJSON writes a text or thinking block with its empty text/thinking
// field present; other block types use the struct's own tags.
func (b BlockStartContent) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(map[string]string{"type": b.Type, "text": b.Text})
	case BlockThinking:
		return json.Marshal(map[string]string{"type": b.Type, "thinking": b.Thinking})
	}
	type plain BlockStartContent
	return json.Marshal(plain(b))
}

// ContentBlockDeltaPayload is the content_block_delta event body.
type ContentBlockDeltaPayload struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta carries exactly one of its fields, matching Delta.Type.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// MarshalJSON keeps the text/thinking field of a text_delta or
// thinking_delta even when it is empty, as in the zero-length thinking_delta
// of a signature-only thinking block.
func (d BlockDelta) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DeltaText:
		return json.Marshal(map[string]string{"type": d.Type, "text": d.Text})
	case DeltaThinking:
		return json.Marshal(map[string]string{"type": d.Type, "thinking": d.Thinking})
	}
	type plain BlockDelta
	return json.Marshal(plain(d))
}

// ContentBlockStopPayload is the content_block_stop event body.
type ContentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaPayload is the message_delta event body.
type MessageDeltaPayload struct {
	Type  string           `json:"type"`
	Delta MessageDeltaInner `json:"delta"`
	Usage MessageUsage      `json:"usage"`
}

// MessageDeltaInner carries the terminal stop_reason/stop_sequence.
type MessageDeltaInner struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageStopPayload is the message_stop event body.
type MessageStopPayload struct {
	Type string `json:"type"`
}
