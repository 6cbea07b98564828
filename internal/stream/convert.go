package stream

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/text/encoding/charmap"
)

const objectChatCompletionChunk = "chat.completion.chunk"

// NormalizeChunk converts a chat-completion chunk into a text delta event.
// On a chat-completion stream any other object (usage totals, final
// completion) is dropped; on an agent stream it is returned unchanged.
// keep is false for chunks that carry no text (role-only or finish chunks).
func NormalizeChunk(payload []byte, chatFormat bool) (out []byte, keep bool) {
	obj := gjson.GetBytes(payload, "object")
	if obj.String() != objectChatCompletionChunk {
		return payload, !chatFormat
	}

	content := gjson.GetBytes(payload, "choices.0.delta.content")
	var text string
	switch {
	case content.Type == gjson.String:
		text = content.String()
	case content.IsArray():
		var sb strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Type == gjson.String:
				sb.WriteString(part.String())
			case part.Get("type").String() == "text":
				sb.WriteString(part.Get("text").String())
			}
			return true
		})
		text = sb.String()
	}
	if text == "" {
		return nil, false
	}

	out, err := sjson.SetBytes([]byte(`{"type":"`+TypeTextDelta+`"}`), "delta", FixMojibake(text))
	if err != nil {
		return nil, false
	}
	return out, true
}

var latin1Run = regexp.MustCompile(`[\x{0080}-\x{00FF}]+`)

// FixMojibake repairs UTF-8 text that was decoded as Latin-1 somewhere
// upstream ("â€”" back to "—"). Text that does not round-trip is kept.
func FixMojibake(text string) string {
	if text == "" {
		return text
	}
	if fixed, ok := latin1ToUTF8(text); ok {
		return fixed
	}
	// Mixed content: repair only the Latin-1 runs.
	return latin1Run.ReplaceAllStringFunc(text, func(seg string) string {
		if fixed, ok := latin1ToUTF8(seg); ok {
			return fixed
		}
		return seg
	})
}

func latin1ToUTF8(s string) (string, bool) {
	b, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(b) {
		return "", false
	}
	return b, true
}
