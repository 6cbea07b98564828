package sse

import "strings"

// Kind classifies a logical line.
type Kind int

const (
	// KindData is an event payload to classify and forward.
	KindData Kind = iota
	// KindDone is the terminal sentinel.
	KindDone
	// KindHTML is an HTML error page fragment; never forwarded.
	KindHTML
	// KindControl is an SSE field other than data (event:, id:, retry:) or a comment.
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindDone:
		return "done"
	case KindHTML:
		return "html"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// DoneSentinel terminates an SSE stream.
const DoneSentinel = "[DONE]"

// Line is one logical line. Raw is the line as received (without the line
// terminator); Payload has the data marker stripped.
type Line struct {
	Kind    Kind
	Raw     string
	Payload string
}

var controlPrefixes = []string{"event:", "id:", "retry:", ":"}

// Classify turns a raw logical line into a Line. Blank lines report ok=false.
func Classify(raw string) (Line, bool) {
	raw = strings.TrimRight(raw, "\r")
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Line{}, false
	}
	if strings.HasPrefix(trimmed, "<") {
		return Line{Kind: KindHTML, Raw: raw, Payload: trimmed}, true
	}

	payload := trimmed
	switch {
	case strings.HasPrefix(trimmed, "data: "):
		payload = trimmed[len("data: "):]
	case strings.HasPrefix(trimmed, "data:"):
		payload = trimmed[len("data:"):]
	default:
		for _, p := range controlPrefixes {
			if strings.HasPrefix(trimmed, p) {
				return Line{Kind: KindControl, Raw: raw, Payload: trimmed}, true
			}
		}
	}
	payload = strings.TrimSpace(payload)

	switch {
	case payload == "":
		return Line{}, false
	case payload == DoneSentinel:
		return Line{Kind: KindDone, Raw: raw, Payload: payload}, true
	case strings.HasPrefix(payload, "<"):
		return Line{Kind: KindHTML, Raw: raw, Payload: payload}, true
	}
	return Line{Kind: KindData, Raw: raw, Payload: payload}, true
}
