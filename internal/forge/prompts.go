package forge

import (
	"fmt"
	"strings"
)

// maxBuildOutput bounds how much verifier output is fed back on repair.
const maxBuildOutput = 8000

const analysisSystemPrompt = `You are an expert security researcher creating Tsunami Security Scanner plugins.
Your task is to analyze vulnerability information and generate a complete Java implementation for the ` + "`isServiceVulnerable`" + ` method.

WORKFLOW:
1. First, read the example SQL injection detector to understand the correct API patterns.
2. Analyze the vulnerability information.
3. Generate the complete Java code for the ` + "`isServiceVulnerable`" + ` method, including all necessary helper methods, following the patterns from the example.
4. List any additional Java imports required by your code.

CRITICAL REQUIREMENTS:
- Respond with a single JSON object with exactly these keys:
  "vulnerability_type", "plugin_name", "description", "recommendation",
  "endpoints" (array of strings), "payloads" (array of strings),
  "imports" (array of full import statements), "java_code" (string).
- "java_code" holds the complete ` + "`isServiceVulnerable`" + ` method and every helper it calls, as a JSON string.
- Do not import com.google.common.net.HttpHeaders. It does not resolve on the plugin classpath.
- The code must test the application with every generated attack, record the result of each one and, after the last attack, return whether the number of successful attacks is greater than 0.
- If you cannot produce JSON, start with the imports prefixed by "IMPORTS:", then the method in a ` + "```java" + ` fenced block, and nothing else.`

const repairSystemPrompt = `You are a Java debugging expert. The provided Java code for a Tsunami plugin has a build error.
Your task is to analyze the error message and the code, then provide a corrected version of the code.

CRITICAL REQUIREMENTS:
- ONLY output the corrected, complete Java code for the ` + "`isServiceVulnerable`" + ` method.
- Do NOT output any explanations, markdown, or JSON.
- Ensure the corrected code is a single block of text.
- Pay close attention to the error message to identify the exact problem (e.g., missing imports, syntax errors, incorrect method calls).`

// analysisPrompt inlines the write-up and reference detector the model would
// otherwise have to fetch.
func analysisPrompt(vulnerabilityType, description, exampleDetector string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the vulnerability details for `%s` and generate the plugin implementation.\n\n", vulnerabilityType)
	b.WriteString("**Vulnerability Information:**\n")
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\n\n")
	if exampleDetector != "" {
		b.WriteString("**Example Detector (SqlInjectionDetector.java):**\n```java\n")
		b.WriteString(strings.TrimSpace(exampleDetector))
		b.WriteString("\n```\n\n")
	}
	b.WriteString(`**Response Format (Strict JSON):**
{
  "vulnerability_type": "` + vulnerabilityType + `",
  "plugin_name": "snake_case_name",
  "description": "What the detector finds.",
  "recommendation": "How to remediate.",
  "endpoints": ["/path"],
  "payloads": ["payload"],
  "imports": ["import java.net.URLEncoder;"],
  "java_code": "private boolean isServiceVulnerable(NetworkService networkService) {\n    return false;\n}"
}
`)
	return b.String()
}

func repairPrompt(buildError, code string) string {
	return fmt.Sprintf(`The following Java code failed to build. Please fix it.

Build Error:
%s

Faulty Java Code:
%s

Provide the corrected and complete `+"`isServiceVulnerable`"+` method implementation:
`, truncateTail(buildError, maxBuildOutput), code)
}

// truncateTail keeps the end of s, where build tools print the failure summary.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "...(truncated)\n" + s[len(s)-max:]
}
