// Package agent — assistant response sanitization.
//
// Some providers leak internal formatting into the text channel instead of
// using proper structured events: garbled tool-call XML from models that
// don't support native tool calling well, <think>/<thinking> reasoning
// wrappers left untouched by the provider, stray <final> tags, and
// hallucinated [System Message] echoes. SanitizeAssistantContent runs once
// per finished turn, right before the assistant message is appended to the
// Message Log, so none of this gets persisted. The message_delta events
// already streamed to the client during the turn are not sanitized.
package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeAssistantContent cleans assistant response text before it is
// appended to the session log. Text already streamed to the client as
// message_delta is not affected.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}

	original := content

	content = stripGarbledToolXML(content)
	if content == "" {
		return ""
	}
	content = stripThinkingTags(content)
	content = stripFinalTags(content)
	content = stripEchoedSystemMessages(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	content = stripLeadingBlankLines(content)
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized assistant content", "original_len", len(original), "cleaned_len", len(content))
	}

	return content
}

// garbledToolXMLPattern matches XML-like tool call artifacts that some
// models emit as text content instead of a proper tool_call event.
var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|functioninvoke|invoke|invfunction_calls|tool_call|tool_use|parameter|minimax:tool_call)[^>]*>`,
)

var garbledToolXMLIndicators = []string{
	"invfunction_calls",
	"functioninvoke",
	"<parameter name=",
	"</parameter",
	"<function_call",
	"<tool_call",
	"<tool_use",
	"<minimax:tool_call",
}

func stripGarbledToolXML(content string) string {
	hasIndicator := false
	lower := strings.ToLower(content)
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, strings.ToLower(ind)) {
			hasIndicator = true
			break
		}
	}
	if !hasIndicator {
		return content
	}

	cleaned := garbledToolXMLPattern.ReplaceAllString(content, "")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned != "" && hasIndicator {
		slog.Warn("stripped garbled tool call response", "original_len", len(content), "remaining_len", len(cleaned))
		return ""
	}

	if cleaned == "" {
		slog.Warn("stripped entire response as garbled tool XML", "original_len", len(content))
	}
	return cleaned
}

// Strips <think>, <thinking>, <thought>, <antThinking> wrappers that leak
// into the text channel instead of arriving as thinking_delta events.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	regexp.MustCompile(`(?is)<antThinking>.*?</antThinking>`),
	regexp.MustCompile(`(?is)<antthinking>.*?</antthinking>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") &&
		!strings.Contains(lower, "<antthinking") {
		return content
	}
	result := content
	for _, pat := range thinkingTagPatterns {
		result = pat.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}

// Removes bare <final>/</final> tags while keeping the content inside them.
var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagPattern.ReplaceAllString(content, "")
}

// stripEchoedSystemMessages removes "[System Message] ..." blocks that
// models sometimes hallucinate back into their own reply.
func stripEchoedSystemMessages(content string) string {
	if !strings.Contains(content, "[System Message]") {
		return content
	}

	lines := strings.Split(content, "\n")
	var result []string
	skipping := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[System Message]") {
			skipping = true
			continue
		}
		if skipping {
			if strings.TrimSpace(line) == "" {
				skipping = false
				continue
			}
			continue
		}
		result = append(result, line)
	}

	cleaned := strings.TrimSpace(strings.Join(result, "\n"))

	if cleaned != strings.TrimSpace(content) {
		slog.Warn("stripped echoed [System Message] from assistant response", "original_len", len(content), "cleaned_len", len(cleaned))
	}

	return cleaned
}

// collapseConsecutiveDuplicateBlocks removes a paragraph block that is
// repeated immediately after itself (providers sometimes restate a block
// verbatim mid-stream after a retry).
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var result []string
	for i, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if i > 0 && len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}

	collapsed := strings.Join(result, "\n\n")
	if collapsed != content {
		slog.Debug("collapsed duplicate blocks", "original_blocks", len(blocks), "result_blocks", len(result))
	}
	return collapsed
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func stripLeadingBlankLines(content string) string {
	return leadingBlankLinesPattern.ReplaceAllString(content, "")
}
