package proxy

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// TranslateRequest converts an Anthropic-shaped request into the Gemini
// request body (component F), resolving thinking config and safety settings
// via the Config Builder (D), sanitizing tool schemas via the Schema
// Sanitizer (E), and resolving thought-signatures for tool_use blocks via
// the Signature Cache (B) when a block doesn't carry one inline.
func TranslateRequest(req *Request, resolvedModel string, sigCache *SignatureCache) (*GeminiRequest, error) {
	contents, err := translateMessages(req.Messages, sigCache)
	if err != nil {
		return nil, err
	}
	contents = mergeConsecutiveSameRole(contents)

	out := &GeminiRequest{
		Contents:         contents,
		SystemInstruction: translateSystem(req.System),
		Tools:            translateTools(req.Tools),
		GenerationConfig: BuildGenerationConfig(resolvedModel, req),
		SafetySettings:   BuildSafetySettings(),
	}
	return out, nil
}

// translateSystem flattens the Anthropic system prompt, which may be a bare
// JSON string or an array of {type:"text", text} blocks, into a single
// systemInstruction content entry.
func translateSystem(raw json.RawMessage) *GeminiContent {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return &GeminiContent{Parts: []GeminiPart{{Text: asString}}}
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	var lines []string
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			lines = append(lines, b.Text)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return &GeminiContent{Parts: []GeminiPart{{Text: strings.Join(lines, "\n")}}}
}

func translateRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "user":
		return "user"
	default:
		return "user"
	}
}

func translateMessages(messages []Message, sigCache *SignatureCache) ([]GeminiContent, error) {
	contents := make([]GeminiContent, 0, len(messages))
	for _, msg := range messages {
		blocks, err := parseContentBlocks(msg.Content)
		if err != nil {
			return nil, err
		}
		parts := make([]GeminiPart, 0, len(blocks))
		for _, b := range blocks {
			part, ok := translateBlock(b, sigCache)
			if ok {
				parts = append(parts, part)
			}
		}
		contents = append(contents, GeminiContent{Role: translateRole(msg.Role), Parts: parts})
	}
	return contents, nil
}

// parseContentBlocks accepts either a bare string or an array of typed
// blocks, matching the Anthropic content-shape union.
func parseContentBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil, nil
		}
		return []ContentBlock{{Type: BlockText, Text: asString}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func translateBlock(b ContentBlock, sigCache *SignatureCache) (GeminiPart, bool) {
	switch b.Type {
	case BlockText:
		return GeminiPart{Text: b.Text}, true

	case BlockImage:
		if b.Source == nil {
			return GeminiPart{}, false
		}
		return GeminiPart{InlineData: &GeminiInlineData{MimeType: b.Source.MediaType, Data: b.Source.Data}}, true

	case BlockThinking:
		// Thinking blocks are assistant-reasoning echo only; they are not
		// replayed as input to the upstream.
		return GeminiPart{}, false

	case BlockToolUse:
		id := b.ID
		if id == "" {
			id = generateToolUseID(b.Name)
		}
		signature := b.Signature
		if signature == "" && sigCache != nil {
			if cached, ok := sigCache.Get(id); ok {
				signature = cached
			} else if cached, ok := sigCache.GetLatest(); ok {
				signature = cached
			}
		}
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return GeminiPart{
			FunctionCall:     &GeminiFunctionCall{Name: b.Name, Args: input, ID: id},
			ThoughtSignature: signature,
		}, true

	case BlockToolResult:
		return GeminiPart{FunctionResponse: &GeminiFunctionResponse{
			Name:     b.ToolUseID,
			Response: buildToolResultResponse(b.Content),
			ID:       b.ToolUseID,
		}}, true

	default:
		return GeminiPart{}, false
	}
}

// buildToolResultResponse flattens a tool_result's content (a bare string or
// an array of typed sub-blocks) into the {"result": "<string>"} shape the
// upstream functionResponse expects.
func buildToolResultResponse(raw json.RawMessage) json.RawMessage {
	text := flattenToolResultContent(raw)
	out, err := json.Marshal(map[string]string{"result": text})
	if err != nil {
		return json.RawMessage(`{"result":""}`)
	}
	return out
}

func flattenToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var lines []string
	for _, b := range blocks {
		if b.Text != "" {
			lines = append(lines, b.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// generateToolUseID synthesizes an id for a tool_use block that didn't carry
// one, matching the "{name}-{8hex}" shape used when relaying a
// locally-generated function call id back to the client.
func generateToolUseID(name string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return name + "-" + hex.EncodeToString(buf)
}

// mergeConsecutiveSameRole concatenates parts of adjacent contents entries
// that share a role, inserting a blank-line separator between merged user
// turns when both boundary parts carry text.
func mergeConsecutiveSameRole(contents []GeminiContent) []GeminiContent {
	if len(contents) == 0 {
		return contents
	}

	merged := make([]GeminiContent, 0, len(contents))
	merged = append(merged, contents[0])

	for _, c := range contents[1:] {
		last := &merged[len(merged)-1]
		if last.Role != c.Role {
			merged = append(merged, c)
			continue
		}

		if last.Role == "user" && len(last.Parts) > 0 && len(c.Parts) > 0 {
			lastPart := last.Parts[len(last.Parts)-1]
			firstPart := c.Parts[0]
			if lastPart.Text != "" && firstPart.Text != "" {
				last.Parts = append(last.Parts, GeminiPart{Text: "\n\n"})
			}
		}
		last.Parts = append(last.Parts, c.Parts...)
	}

	return merged
}

// translateTools builds the upstream tools array. A web_search tool, if
// present anywhere in the request, takes over entirely: the upstream's
// built-in search grounding tool is mutually exclusive with user function
// declarations.
func translateTools(tools []Tool) []GeminiTool {
	if len(tools) == 0 {
		return nil
	}

	for _, t := range tools {
		if t.Name == ToolWebSearch {
			return []GeminiTool{{
				GoogleSearch: &GeminiGoogleSearch{
					EnhancedContent: GeminiSearchEnhancedContent{
						ImageSearch: GeminiImageSearch{MaxResultCount: 5},
					},
				},
			}}
		}
	}

	decls := make([]GeminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, GeminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  SanitizeSchema(t.InputSchema),
		})
	}
	return []GeminiTool{{FunctionDeclarations: decls}}
}
