// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// json mirrors encoding/json semantics (field tags, case-insensitive keys)
// while using jsoniter's decoder.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in an untagged or arbitrarily tagged fence.
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

	fenceMu    sync.RWMutex
	fenceCache = map[string]*regexp.Regexp{}
)

// ParseJSONResponse parses an LLM reply holding a single JSON object into T.
// Markdown fences, leading prose and anything after the first complete
// object are tolerated.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	candidate := response

	if strings.HasPrefix(response, "```") {
		if m := jsonObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			candidate = m[1]
		}
	} else if first := strings.Index(response, "{"); first > 0 {
		candidate = response[first:]
	}

	// Only the first JSON value is decoded; prose after it is ignored.
	var result T
	iter := json.BorrowIterator([]byte(candidate))
	defer json.ReturnIterator(iter)
	iter.ReadVal(&result)
	if err := iter.Error; err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(candidate, 500))
	}
	return &result, nil
}

// FindFenced returns the trimmed interior of the first fenced block tagged
// with lang (case-insensitive) and whether one was found.
func FindFenced(text, lang string) (string, bool) {
	m := fenceRegex(lang).FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ExtractFenced returns the interior of the first lang-tagged fence. Without
// one it falls back to CleanCodeOutput, so applying it to its own output is a
// no-op.
func ExtractFenced(text, lang string) string {
	if code, ok := FindFenced(text, lang); ok {
		return code
	}
	return CleanCodeOutput(text)
}

// ExtractCode pulls Java source out of a model reply.
func ExtractCode(text string) string {
	return ExtractFenced(text, "java")
}

// CleanCodeOutput strips a surrounding markdown fence (```java, ``` etc.)
// from a reply that starts with one. Anything else comes back trimmed.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if m := codeBlockRegex.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return content
}

func fenceRegex(lang string) *regexp.Regexp {
	lang = strings.ToLower(lang)
	fenceMu.RLock()
	re, ok := fenceCache[lang]
	fenceMu.RUnlock()
	if ok {
		return re
	}

	re = regexp.MustCompile("(?is)\x60\x60\x60" + regexp.QuoteMeta(lang) + "\\b\\s*(.*?)\\s*\x60\x60\x60")
	fenceMu.Lock()
	fenceCache[lang] = re
	fenceMu.Unlock()
	return re
}

// Truncate shortens s to maxLen bytes, appending an ellipsis when it cuts.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Byte truncation; good enough for log and error context.
	return s[:maxLen] + "..."
}
