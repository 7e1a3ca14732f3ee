package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evanreyes/geminiproxy/internal/metrics"
	"github.com/evanreyes/geminiproxy/internal/proxyerr"
)

// UpstreamError carries the HTTP status and raw body of a failed upstream
// call, the shape the Retry Policy (A) decides against.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Body)
}

// UpstreamClient issues the outbound call to the Gemini-shape endpoint and
// streams back response chunks. Implementations are expected to use a
// goroutine reading the HTTP response body and pushing parsed chunks onto
// the returned channel, closing it on EOF; a non-nil error returned from
// StreamGenerate itself means the call never got a streaming body at all
// (typically an *UpstreamError for non-2xx statuses).
type UpstreamClient interface {
	StreamGenerate(ctx context.Context, token *TokenRecord, model string, body *GeminiRequest) (<-chan GeminiStreamChunk, error)
}

// maxRotationAttempts bounds how many further attempts (short-delay waits or
// account rotations) the pipeline makes after the first, so retries can't
// loop forever; rotation alone is additionally limited to one try per loaded
// account.
const maxRotationAttempts = 4

// Pipeline binds components A through I into the per-request control flow
// (component J): obtain a token, resolve the model, translate the request,
// call upstream, convert the response stream, and apply the retry policy on
// failure.
type Pipeline struct {
	tokens     *TokenManager
	signatures *SignatureCache
	client     UpstreamClient
	modelMap   map[string]string
	sleep      func(context.Context, time.Duration) error
}

// NewPipeline builds a Pipeline from its collaborators. modelMap is the
// operator-supplied custom model override table (may be nil).
func NewPipeline(tokens *TokenManager, signatures *SignatureCache, client UpstreamClient, modelMap map[string]string) *Pipeline {
	return &Pipeline{tokens: tokens, signatures: signatures, client: client, modelMap: modelMap, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hasWebSearchTool(tools []Tool) bool {
	for _, t := range tools {
		if t.Name == ToolWebSearch {
			return true
		}
	}
	return false
}

// connectResult is the outcome of a successful connection attempt: the live
// chunk channel and the upstream model it was opened against.
type connectResult struct {
	chunks <-chan GeminiStreamChunk
	model  string
}

// connect resolves the model, obtains a token, translates the request, and
// issues the upstream call, applying the Retry Policy (A) to rotate
// accounts or wait out a short 429 delay before giving up. No SSE events are
// produced by this phase, so a client never observes a partially-started
// stream that then has to be aborted for a retry.
func (p *Pipeline) connect(ctx context.Context, req *Request) (*connectResult, error) {
	resolvedModel := MapModel(req.Model, hasWebSearchTool(req.Tools), p.modelMap)

	var lastErr error
	rotations := 0
	for attempt := 0; attempt <= maxRotationAttempts; attempt++ {
		token, err := p.tokens.GetToken()
		if err != nil {
			return nil, err
		}

		geminiReq, err := TranslateRequest(req, resolvedModel, p.signatures)
		if err != nil {
			return nil, proxyerr.Wrap(proxyerr.KindParseError, "translate request", err)
		}

		chunks, err := p.client.StreamGenerate(ctx, token, resolvedModel, geminiReq)
		if err == nil {
			return &connectResult{chunks: chunks, model: resolvedModel}, nil
		}
		lastErr = err

		var upstreamErr *UpstreamError
		if !errors.As(err, &upstreamErr) {
			return nil, err
		}

		action := DecideRetryAction(upstreamErr.StatusCode, upstreamErr.Body)
		switch action.Kind {
		case RetryWaitAndRetry:
			if sleepErr := p.sleep(ctx, time.Duration(action.DelayMS)*time.Millisecond); sleepErr != nil {
				return nil, sleepErr
			}
			// same account, same upstream error class: try again.
		case RetryRotateAccount:
			// at most N-1 rotations: every account gets one try.
			rotations++
			if rotations >= p.tokens.Count() {
				return nil, proxyerr.Wrap(proxyerr.KindAccountExhausted, "exhausted account rotation", err)
			}
			continue
		default:
			return nil, proxyerr.Wrap(proxyerr.KindUpstreamPermanent, "upstream call failed", err)
		}
	}

	return nil, proxyerr.Wrap(proxyerr.KindAccountExhausted, "exhausted account rotation", lastErr)
}

// ExecuteStream runs the full pipeline for a streaming request, returning a
// channel of Anthropic SSE events. The channel is closed once message_stop
// has been emitted (or synthesized, on an upstream connection drop).
func (p *Pipeline) ExecuteStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	result, err := p.connect(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go p.drainStream(ctx, result, out)
	return out, nil
}

func (p *Pipeline) drainStream(ctx context.Context, result *connectResult, out chan<- StreamEvent) {
	defer close(out)

	converter := NewStreamConverter("msg_"+uuid.NewString(), result.model)

	if !p.emit(ctx, out, converter.Start()) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			for _, event := range converter.Finalize() {
				if !p.emit(ctx, out, event) {
					return
				}
			}
			return
		case chunk, ok := <-result.chunks:
			if !ok {
				for _, event := range converter.Finalize() {
					if !p.emit(ctx, out, event) {
						return
					}
				}
				return
			}
			for _, event := range converter.ProcessChunk(chunk) {
				if !p.emit(ctx, out, event) {
					return
				}
			}
		}
	}
}

func (p *Pipeline) emit(ctx context.Context, out chan<- StreamEvent, event StreamEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// FinalMessage is the shape of a non-streaming POST /v1/messages response,
// reconstructed from the same event sequence a streaming caller would
// receive.
type FinalMessage struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Model        string            `json:"model"`
	Content      []json.RawMessage `json:"content"`
	StopReason   string            `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        MessageUsage      `json:"usage"`
}

// ExecuteSync runs the full pipeline for a non-streaming request, buffering
// the entire response before returning it. If the final assistant content
// is empty and the finish reason indicates truncation, the whole call is
// retried once (with account rotation) per the empty-completion retry rule.
func (p *Pipeline) ExecuteSync(ctx context.Context, req *Request) (*FinalMessage, error) {
	for attempt := 0; attempt <= 1; attempt++ {
		result, err := p.connect(ctx, req)
		if err != nil {
			return nil, err
		}

		converter := NewStreamConverter("msg_"+uuid.NewString(), result.model)
		acc := newMessageAccumulator()
		var rawFinishReason string

		acc.apply(converter.Start())
	drain:
		for {
			select {
			case <-ctx.Done():
				for _, event := range converter.Finalize() {
					acc.apply(event)
				}
				return nil, ctx.Err()
			case chunk, ok := <-result.chunks:
				if !ok {
					for _, event := range converter.Finalize() {
						acc.apply(event)
					}
					break drain
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "" {
					rawFinishReason = chunk.Choices[0].FinishReason
				}
				for _, event := range converter.ProcessChunk(chunk) {
					acc.apply(event)
				}
			}
		}

		msg := acc.finalMessage()
		if msg.StopReason != StopToolUse && ShouldRetryEmptyResponse(acc.plainTextContent(), rawFinishReason) {
			metrics.EmptyCompletionRetries.Inc()
			continue
		}
		return msg, nil
	}

	return nil, proxyerr.New(proxyerr.KindEmptyCompletion, "upstream returned empty completion after exhausting retries")
}

// messageAccumulator rebuilds a final Anthropic message body by replaying
// the same StreamEvent sequence a streaming client would observe.
type messageAccumulator struct {
	id         string
	model      string
	blocks     map[int]*accBlock
	order      []int
	stopReason string
	usage      MessageUsage
}

type accBlock struct {
	blockType string
	text      strings.Builder
	thinking  strings.Builder
	signature string
	id        string
	name      string
	input     strings.Builder
}

func newMessageAccumulator() *messageAccumulator {
	return &messageAccumulator{blocks: make(map[int]*accBlock)}
}

func (a *messageAccumulator) apply(event StreamEvent) {
	switch event.Name {
	case EventMessageStart:
		payload := event.Data.(MessageStartPayload)
		a.id = payload.Message.ID
		a.model = payload.Message.Model
	case EventContentBlockStart:
		payload := event.Data.(ContentBlockStartPayload)
		a.blocks[payload.Index] = &accBlock{
			blockType: payload.ContentBlock.Type,
			id:        payload.ContentBlock.ID,
			name:      payload.ContentBlock.Name,
		}
		a.order = append(a.order, payload.Index)
	case EventContentBlockDelta:
		payload := event.Data.(ContentBlockDeltaPayload)
		block, ok := a.blocks[payload.Index]
		if !ok {
			return
		}
		switch payload.Delta.Type {
		case DeltaText:
			block.text.WriteString(payload.Delta.Text)
		case DeltaThinking:
			block.thinking.WriteString(payload.Delta.Thinking)
		case DeltaSignature:
			block.signature = payload.Delta.Signature
		case DeltaInputJSON:
			block.input.WriteString(payload.Delta.PartialJSON)
		}
	case EventMessageDelta:
		payload := event.Data.(MessageDeltaPayload)
		a.stopReason = payload.Delta.StopReason
		a.usage = payload.Usage
	}
}

// plainTextContent concatenates every text block's content, used to decide
// whether the completion counts as empty.
func (a *messageAccumulator) plainTextContent() string {
	var sb strings.Builder
	for _, idx := range a.order {
		block := a.blocks[idx]
		if block.blockType == BlockText {
			sb.WriteString(block.text.String())
		}
	}
	return sb.String()
}

func (a *messageAccumulator) finalMessage() *FinalMessage {
	content := make([]json.RawMessage, 0, len(a.order))
	for _, idx := range a.order {
		block := a.blocks[idx]
		content = append(content, block.marshal())
	}
	return &FinalMessage{
		ID:         a.id,
		Type:       "message",
		Role:       "assistant",
		Model:      a.model,
		Content:    content,
		StopReason: a.stopReason,
		Usage:      a.usage,
	}
}

func (b *accBlock) marshal() json.RawMessage {
	switch b.blockType {
	case BlockText:
		out, _ := json.Marshal(map[string]string{"type": BlockText, "text": b.text.String()})
		return out
	case BlockThinking:
		payload := map[string]string{"type": BlockThinking, "thinking": b.thinking.String()}
		if b.signature != "" {
			payload["signature"] = b.signature
		}
		out, _ := json.Marshal(payload)
		return out
	case BlockToolUse:
		input := json.RawMessage(b.input.String())
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		out, _ := json.Marshal(map[string]any{
			"type":  BlockToolUse,
			"id":    b.id,
			"name":  b.name,
			"input": input,
		})
		return out
	default:
		return json.RawMessage("{}")
	}
}
