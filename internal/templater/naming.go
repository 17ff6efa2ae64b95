package templater

import (
	"strings"
	"unicode"
)

// baselineImports are always present in a generated detector. Extra imports
// that repeat one of these are dropped.
var baselineImports = []string{
	"com.google.common.collect.ImmutableList",
	"com.google.common.flogger.GoogleLogger",
	"com.google.inject.Inject",
	"com.google.protobuf.util.Timestamps",
	"com.google.protobuf.ByteString",
	"com.google.tsunami.common.net.http.HttpClient",
	"com.google.tsunami.common.net.http.HttpResponse",
	"com.google.tsunami.common.net.http.HttpRequest",
	"com.google.tsunami.common.net.http.HttpHeaders",
	"com.google.tsunami.common.data.NetworkServiceUtils",
	"com.google.tsunami.common.time.UtcClock",
	"com.google.tsunami.plugin.annotations.PluginInfo",
	"com.google.tsunami.plugin.PluginType",
	"com.google.tsunami.plugin.VulnDetector",
	"com.google.tsunami.proto.DetectionReport",
	"com.google.tsunami.proto.DetectionReportList",
	"com.google.tsunami.proto.DetectionStatus",
	"com.google.tsunami.proto.NetworkService",
	"com.google.tsunami.proto.Severity",
	"com.google.tsunami.proto.TargetInfo",
	"com.google.tsunami.proto.Vulnerability",
	"com.google.tsunami.proto.VulnerabilityId",
	"java.io.IOException",
	"java.net.URLEncoder",
	"java.nio.charset.StandardCharsets",
	"java.time.Instant",
	"java.time.Clock",
	"java.util.regex.Pattern",
	"java.util.regex.Matcher",
}

// staticBaseline are the static imports the template declares, plus the
// class they come from.
var staticBaseline = []string{
	"static com.google.common.base.Preconditions.checkNotNull",
	"static com.google.common.collect.ImmutableList.toImmutableList",
	"static java.lang.String.format",
	"com.google.common.base.Preconditions",
}

// PascalCase converts a snake, kebab or space separated name to PascalCase.
// Characters other than letters and digits act as separators. The rest of
// each word keeps its case, so "XssDetector" stays as it is.
func PascalCase(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out == "" || unicode.IsDigit([]rune(out)[0]) {
		out = "Plugin" + out
	}
	return out
}

// ClassName is the detector class name for a plugin: its PascalCase form
// ending in "Detector" exactly once.
func ClassName(pluginName string) string {
	base := PascalCase(pluginName)
	if strings.HasSuffix(base, "Detector") {
		return base
	}
	return base + "Detector"
}

// ProjectSuffix ends every project directory name.
const ProjectSuffix = "_vulnerability"

// ProjectName is the directory name of a plugin's project.
func ProjectName(pluginName string) string {
	safe := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			return r
		}
		return '_'
	}, strings.TrimSpace(pluginName))
	if safe == "" {
		safe = "unnamed"
	}
	return safe + ProjectSuffix
}

// NormalizeImport reduces an import declaration to the bare name, e.g.
// "import java.util.List;" becomes "java.util.List" and
// "import static a.B.c;" becomes "static a.B.c".
func NormalizeImport(decl string) string {
	decl = strings.TrimSpace(decl)
	decl = strings.TrimSuffix(decl, ";")
	decl = strings.TrimSpace(decl)
	if rest, ok := strings.CutPrefix(decl, "import "); ok {
		decl = strings.TrimSpace(rest)
	}
	return strings.Join(strings.Fields(decl), " ")
}

// ExtraImports returns the imports from decls that the detector template
// does not already declare, normalized and deduplicated in order.
func ExtraImports(decls []string) []string {
	seen := make(map[string]struct{}, len(baselineImports)+len(staticBaseline))
	for _, imp := range baselineImports {
		seen[imp] = struct{}{}
	}
	for _, imp := range staticBaseline {
		seen[imp] = struct{}{}
	}

	var extra []string
	for _, d := range decls {
		imp := NormalizeImport(d)
		if imp == "" || !isImportName(imp) {
			continue
		}
		if _, dup := seen[imp]; dup {
			continue
		}
		seen[imp] = struct{}{}
		extra = append(extra, imp)
	}
	return extra
}

// isImportName rejects anything that is not a dotted Java name, which keeps
// stray prose out of the generated source.
func isImportName(imp string) bool {
	imp = strings.TrimPrefix(imp, "static ")
	if imp == "" || strings.HasPrefix(imp, ".") || strings.HasSuffix(imp, ".") {
		return false
	}
	for _, r := range imp {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '*' || r == '$') {
			return false
		}
	}
	return strings.Contains(imp, ".")
}

// javaString escapes s for use inside a Java string literal.
func javaString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(s)
}
