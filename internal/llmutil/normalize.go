package llmutil

import (
	"fmt"

	"google.golang.org/genai"
)

// Normalize flattens whatever an LLM client handed back into plain text.
//
// Recognised shapes are plain strings, byte slices, fragment lists whose
// first element carries a "text" field, Gemini parts, contents and
// responses. Anything else is rendered with %v, which is lossy and only
// useful as a diagnostic.
func Normalize(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case []map[string]any:
		if len(v) > 0 {
			if text, ok := v[0]["text"].(string); ok {
				return text
			}
		}
	case []map[string]string:
		if len(v) > 0 {
			if text, ok := v[0]["text"]; ok {
				return text
			}
		}
	case []*genai.Part:
		if len(v) > 0 && v[0] != nil {
			return v[0].Text
		}
	case []any:
		if len(v) > 0 {
			if text, ok := fragmentText(v[0]); ok {
				return text
			}
		}
	case *genai.Part:
		if v != nil {
			return v.Text
		}
		return ""
	case *genai.Content:
		if v != nil {
			return Normalize(v.Parts)
		}
		return ""
	case *genai.GenerateContentResponse:
		if v != nil && len(v.Candidates) > 0 && v.Candidates[0] != nil {
			return Normalize(v.Candidates[0].Content)
		}
		return ""
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", raw)
}

func fragmentText(fragment any) (string, bool) {
	switch f := fragment.(type) {
	case map[string]any:
		text, ok := f["text"].(string)
		return text, ok
	case map[string]string:
		text, ok := f["text"]
		return text, ok
	case *genai.Part:
		if f == nil {
			return "", false
		}
		return f.Text, true
	}
	return "", false
}
