package llmutil

import "testing"

// FuzzExtractCode checks that ExtractCode is idempotent.
func FuzzExtractCode(f *testing.F) {
	f.Add("IMPORTS:\nimport java.io.IOException;\n```java\nprivate boolean check() { return true; }\n```")
	f.Add("```java\nclass A {}\n```")
	f.Add("prefix ```java\nclass B {}\n``` suffix")
	f.Add("```\nuntagged\n```")
	f.Add("```java\nunterminated")
	f.Add("``````")
	f.Add("   padded   ")
	f.Add("")

	f.Fuzz(func(t *testing.T, text string) {
		once := ExtractCode(text)
		if twice := ExtractCode(once); twice != once {
			t.Errorf("ExtractCode not idempotent for %q: %q then %q", text, once, twice)
		}
	})
}

// FuzzNormalize checks that normalizing plain text is the identity.
func FuzzNormalize(f *testing.F) {
	f.Add("plain")
	f.Add("")
	f.Fuzz(func(t *testing.T, text string) {
		if got := Normalize(text); got != text {
			t.Errorf("Normalize(%q) = %q", text, got)
		}
	})
}
