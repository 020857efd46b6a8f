package chat

import "strings"

const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"

	ReasoningHeader = "**思考过程**：\n"
	AnswerHeader    = "\n\n**最终回复**：\n"

	// Placeholder is shown as the assistant turn until the first fragment arrives.
	Placeholder = "正在生成回复..."

	TransportFailureMarker = "⚠️ Request failed. Please try again."
	MalformedMarker        = "⚠️ Error parsing response."
)

// Render turns raw model output into the two-part reasoning/answer form.
// Only the markers are replaced; all other characters are kept. Output that
// closes a reasoning segment it never opened gets the reasoning header
// prepended, as some reasoning models omit the opening tag.
func Render(raw string) string {
	open := strings.Index(raw, ThinkOpen)
	closing := strings.Index(raw, ThinkClose)

	out := strings.ReplaceAll(raw, ThinkOpen, ReasoningHeader)
	out = strings.ReplaceAll(out, ThinkClose, AnswerHeader)
	if closing >= 0 && (open < 0 || closing < open) {
		out = ReasoningHeader + out
	}
	return out
}

// tagFailure appends a visible failure marker to whatever was rendered so far.
func tagFailure(rendered, marker string) string {
	if rendered == "" {
		return marker
	}
	return rendered + "\n\n" + marker
}
