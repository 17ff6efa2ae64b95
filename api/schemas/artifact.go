package schemas

import "strings"

// Artifact is the structured detector description recovered from a generator
// reply. It is the unit that gets assembled into a plugin project, verified,
// and repaired.
type Artifact struct {
	VulnerabilityType string   `json:"vulnerability_type" yaml:"vulnerability_type"`
	Name              string   `json:"plugin_name" yaml:"plugin_name"`
	Description       string   `json:"description" yaml:"description"`
	Recommendation    string   `json:"recommendation" yaml:"recommendation"`
	Endpoints         []string `json:"endpoints" yaml:"endpoints"`
	Payloads          []string `json:"payloads" yaml:"payloads"`
	Imports           []string `json:"imports" yaml:"imports"`
	Code              string   `json:"java_code" yaml:"-"`
}

// AddImport appends an import declaration unless an identical one (ignoring
// surrounding whitespace) is already present. It reports whether the import
// was added.
func (a *Artifact) AddImport(imp string) bool {
	imp = strings.TrimSpace(imp)
	if imp == "" {
		return false
	}
	for _, existing := range a.Imports {
		if existing == imp {
			return false
		}
	}
	a.Imports = append(a.Imports, imp)
	return true
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Endpoints = append([]string(nil), a.Endpoints...)
	c.Payloads = append([]string(nil), a.Payloads...)
	c.Imports = append([]string(nil), a.Imports...)
	return &c
}

// VerificationOutcome is the result of one attempt to build an assembled
// plugin project.
type VerificationOutcome struct {
	Succeeded bool   `json:"succeeded"`
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	// Unavailable is set when the build could not be run at all (missing
	// executable, timeout). The attempt still counts as a failure.
	Unavailable bool `json:"unavailable"`
}
