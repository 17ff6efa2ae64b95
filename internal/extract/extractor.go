// Package extract recovers a detector Artifact from free-form model output.
//
// Recovery runs in three tiers. Tier one parses an embedded JSON object.
// Tier two pulls individual fields out with targeted patterns when the JSON
// is malformed. Tier three fills whatever is still missing with defaults
// derived from the vulnerability type. Extraction never fails.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/llmutil"
)

// Field keys the generator is asked to emit.
const (
	KeyVulnerabilityType = "vulnerability_type"
	KeyName              = "plugin_name"
	KeyDescription       = "description"
	KeyRecommendation    = "recommendation"
	KeyEndpoints         = "endpoints"
	KeyPayloads          = "payloads"
	KeyImports           = "imports"
	KeyCode              = "java_code"

	keyNameAlias = "name"
	keyCodeAlias = "code"
)

var knownKeys = []string{
	KeyVulnerabilityType, KeyName, KeyDescription, KeyRecommendation,
	KeyEndpoints, KeyPayloads, KeyImports, KeyCode,
	keyNameAlias, keyCodeAlias,
}

// Tier identifies which strategy produced an artifact.
type Tier int

const (
	TierJSON     Tier = 1
	TierFields   Tier = 2
	TierDefaults Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierJSON:
		return "json"
	case TierFields:
		return "fields"
	case TierDefaults:
		return "defaults"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Report describes how an artifact was recovered.
type Report struct {
	Tier Tier
	// Defaulted lists the keys whose values were synthesised.
	Defaulted []string
}

// PlaceholderCode is the detection method used when no code can be recovered.
// It compiles inside the generated detector and never reports a finding.
const PlaceholderCode = `private boolean isServiceVulnerable(NetworkService networkService) {
    // TODO: Implement vulnerability detection logic
    return false;
}`

// DefaultName is the plugin name used when none can be recovered.
func DefaultName(vulnerabilityType string) string {
	return vulnerabilityType + "_detector"
}

// DefaultDescription is the description used when none can be recovered.
func DefaultDescription(vulnerabilityType string) string {
	return fmt.Sprintf("The application is vulnerable to %s attacks.", humanize(vulnerabilityType))
}

// DefaultRecommendation is the remediation text used when none can be recovered.
func DefaultRecommendation(vulnerabilityType string) string {
	return fmt.Sprintf("Implement proper security measures to prevent %s attacks.", humanize(vulnerabilityType))
}

func humanize(vulnerabilityType string) string {
	return strings.ReplaceAll(vulnerabilityType, "_", " ")
}

var (
	// Tier one candidates, tried in order. Only the first pattern that
	// matches is parsed.
	fencedJSONRegex   = regexp.MustCompile("(?s)\x60\x60\x60json\\s*(\\{.*?\\})\\s*\x60\x60\x60")
	typedObjectRegex  = regexp.MustCompile(`(?s)\{[^{]*?"vulnerability_type"\s*:.*\}`)
	codedObjectRegex  = regexp.MustCompile(`(?s)\{[^{]*?"(?:java_)?code"\s*:.*\}`)
	jsonCandidateList = []*regexp.Regexp{fencedJSONRegex, typedObjectRegex, codedObjectRegex}

	quotedStringRegex = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	importsArrayRegex = regexp.MustCompile(`(?s)"imports"\s*:\s*\[(.*?)\]`)
	importsHeadRegex  = regexp.MustCompile(`(?m)^\s*IMPORTS:[ \t]*`)
	looseCodeRegex    = regexp.MustCompile(`(?s)"(?:java_)?code"\s*:\s*"((?:[^"\\]|\\.)*)"`)

	// Method declarations, preferring the detection entry point.
	entryPointRegex = regexp.MustCompile(`(?:(?:private|public|protected|static|final)\s+)*boolean\s+isServiceVulnerable\s*\([^)]*\)\s*(?:throws\s+[\w.,\s]+?)?\{`)
	methodRegex     = regexp.MustCompile(`(?:(?:private|public|protected|static|final|synchronized)\s+)+[\w<>\[\],.? ]+?\s+\w+\s*\([^)]*\)\s*(?:throws\s+[\w.,\s]+?)?\{`)
)

func scalarRegex(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + key + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
}

var scalarRegexes = map[string]*regexp.Regexp{
	KeyVulnerabilityType: scalarRegex(KeyVulnerabilityType),
	KeyName:              scalarRegex(`(?:plugin_)?name`),
	KeyDescription:       scalarRegex(KeyDescription),
	KeyRecommendation:    scalarRegex(KeyRecommendation),
}

// jsonArtifact accepts both the canonical keys and the short aliases models
// sometimes fall back to.
type jsonArtifact struct {
	VulnerabilityType string   `json:"vulnerability_type"`
	PluginName        string   `json:"plugin_name"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Recommendation    string   `json:"recommendation"`
	Endpoints         []string `json:"endpoints"`
	Payloads          []string `json:"payloads"`
	Imports           []string `json:"imports"`
	JavaCode          string   `json:"java_code"`
	Code              string   `json:"code"`
}

// Extract recovers an artifact from text. It always returns a fully
// populated artifact.
func Extract(text, vulnerabilityType string) schemas.Artifact {
	artifact, _ := ExtractWithReport(text, vulnerabilityType)
	return artifact
}

// ExtractWithReport is Extract plus a description of which tier produced the
// result and which fields were defaulted.
func ExtractWithReport(text, vulnerabilityType string) (schemas.Artifact, Report) {
	if parsed, ok := parseJSONTier(text); ok {
		return finalize(fromJSON(parsed), vulnerabilityType, TierJSON)
	}

	partial, recovered := recoverFields(text)
	tier := TierFields
	if !recovered {
		tier = TierDefaults
	}
	return finalize(partial, vulnerabilityType, tier)
}

func parseJSONTier(text string) (*jsonArtifact, bool) {
	for _, re := range jsonCandidateList {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		start := loc[0]
		if len(loc) > 2 && loc[2] >= 0 {
			start = loc[2]
		}
		// Decoding stops after the object, so trailing braces in prose are ignored.
		parsed, err := llmutil.ParseJSONResponse[jsonArtifact](text[start:])
		if err != nil {
			return nil, false
		}
		return parsed, true
	}
	return nil, false
}

func fromJSON(p *jsonArtifact) schemas.Artifact {
	a := schemas.Artifact{
		VulnerabilityType: p.VulnerabilityType,
		Name:              firstNonEmpty(p.PluginName, p.Name),
		Description:       p.Description,
		Recommendation:    p.Recommendation,
		Endpoints:         p.Endpoints,
		Payloads:          p.Payloads,
		Code:              firstNonEmpty(p.JavaCode, p.Code),
	}
	for _, imp := range p.Imports {
		a.AddImport(imp)
	}
	return a
}

// recoverFields runs tier two. It reports whether any field was found.
func recoverFields(text string) (schemas.Artifact, bool) {
	var a schemas.Artifact
	found := false

	for key, dst := range map[string]*string{
		KeyVulnerabilityType: &a.VulnerabilityType,
		KeyName:              &a.Name,
		KeyDescription:       &a.Description,
		KeyRecommendation:    &a.Recommendation,
	} {
		if m := scalarRegexes[key].FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(unescaper.Replace(m[1])); v != "" {
				*dst = v
				found = true
			}
		}
	}

	for _, imp := range recoverImports(text) {
		if a.AddImport(imp) {
			found = true
		}
	}

	if code := recoverCode(text); code != "" {
		a.Code = code
		found = true
	}
	return a, found
}

func recoverImports(text string) []string {
	if m := importsArrayRegex.FindStringSubmatch(text); m != nil {
		var out []string
		for _, q := range quotedStringRegex.FindAllStringSubmatch(m[1], -1) {
			out = append(out, unescaper.Replace(q[1]))
		}
		return out
	}

	loc := importsHeadRegex.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text[loc[1]:], "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			break
		}
		if strings.HasPrefix(line, "import") {
			out = append(out, line)
		}
	}
	return out
}

func recoverCode(text string) string {
	if code, ok := ScanField(text, KeyCode); ok {
		return code
	}
	if m := looseCodeRegex.FindStringSubmatch(text); m != nil {
		if code := strings.TrimSpace(unescaper.Replace(m[1])); code != "" {
			return code
		}
	}
	if code, ok := llmutil.FindFenced(text, "java"); ok && code != "" {
		return code
	}
	for _, re := range []*regexp.Regexp{entryPointRegex, methodRegex} {
		if code := matchMethod(text, re); code != "" {
			return code
		}
	}
	return ""
}

// matchMethod returns the first method declaration matched by re through its
// balancing closing brace, or "" when the braces never balance.
func matchMethod(text string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	depth := 0
	for i := loc[1] - 1; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[loc[0] : i+1])
			}
		}
	}
	return ""
}

func finalize(a schemas.Artifact, vulnerabilityType string, tier Tier) (schemas.Artifact, Report) {
	report := Report{Tier: tier}
	fill := func(dst *string, key, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
			report.Defaulted = append(report.Defaulted, key)
		}
	}

	fill(&a.VulnerabilityType, KeyVulnerabilityType, vulnerabilityType)
	fill(&a.Name, KeyName, DefaultName(vulnerabilityType))
	fill(&a.Description, KeyDescription, DefaultDescription(vulnerabilityType))
	fill(&a.Recommendation, KeyRecommendation, DefaultRecommendation(vulnerabilityType))
	fill(&a.Code, KeyCode, PlaceholderCode)

	if a.Endpoints == nil {
		a.Endpoints = []string{}
		report.Defaulted = append(report.Defaulted, KeyEndpoints)
	}
	if a.Payloads == nil {
		a.Payloads = []string{}
		report.Defaulted = append(report.Defaulted, KeyPayloads)
	}
	if a.Imports == nil {
		a.Imports = []string{}
		report.Defaulted = append(report.Defaulted, KeyImports)
	}
	return a, report
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
