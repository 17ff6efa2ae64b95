package extract

import (
	"strings"
	"testing"
)

var fuzzSeeds = []string{
	"```json\n{\"vulnerability_type\": \"xss\", \"plugin_name\": \"xss_detector\", \"description\": \"d\", \"recommendation\": \"r\", \"endpoints\": [\"/a\"], \"payloads\": [\"p\"], \"imports\": [], \"java_code\": \"int x;\"}\n```",
	"IMPORTS:\nimport java.io.IOException;\n```java\nprivate boolean check() { return true; }\n```",
	"{\"vulnerability_type\": \"xss\", \"java_code\": \"line1\nline2\", \"description\":\"d\"}",
	`{"java_code": "String s = \"abc\"; return s.isEmpty();"}`,
	`Here it is: {"plugin_name": "a"} Hope this helps {ok}.`,
	`"java_code": "\`,
	"{",
	"",
}

// FuzzExtract checks that extraction never panics and always yields a name
// and code.
func FuzzExtract(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s, "sql_injection")
	}
	f.Add("no structure at all", "")

	f.Fuzz(func(t *testing.T, text, vulnerabilityType string) {
		got, report := ExtractWithReport(text, vulnerabilityType)
		if strings.TrimSpace(got.Name) == "" {
			t.Errorf("empty name for %q", text)
		}
		if strings.TrimSpace(got.Code) == "" {
			t.Errorf("empty code for %q", text)
		}
		if got.Endpoints == nil || got.Payloads == nil || got.Imports == nil {
			t.Errorf("nil list field for %q: %+v", text, got)
		}
		if report.Tier < TierJSON || report.Tier > TierDefaults {
			t.Errorf("unexpected tier %v", report.Tier)
		}
	})
}

// FuzzScanField checks that the scanner never panics on any known key and
// only reports values longer than MinCodeLength.
func FuzzScanField(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, text string) {
		for _, key := range knownKeys {
			value, ok := ScanField(text, key)
			if ok && len(value) <= MinCodeLength {
				t.Errorf("ScanField(%q) returned short value %q", key, value)
			}
			if !ok && value != "" {
				t.Errorf("ScanField(%q) returned %q without ok", key, value)
			}
		}
	})
}
