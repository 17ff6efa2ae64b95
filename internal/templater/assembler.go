// Package templater turns an Artifact into a buildable Tsunami plugin project.
package templater

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
	"github.com/xkilldash9x/tsunami-forge/internal/config"
	"github.com/xkilldash9x/tsunami-forge/internal/extract"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// JavaPackage is the package every generated detector lives in.
const JavaPackage = "com.google.tsunami.plugins.raid"

// ManifestFile is written at the root of every project.
const ManifestFile = "forge.yaml"

// Versions pins the toolchain a generated project builds against.
type Versions struct {
	Tsunami string `yaml:"tsunami"`
	Gradle  string `yaml:"gradle"`
}

// DefaultVersions are the versions the templates were written for.
var DefaultVersions = Versions{Tsunami: "0.0.29", Gradle: "8.14"}

// wrapperFiles are copied from the example plugin when present.
var wrapperFiles = []struct {
	path string
	mode os.FileMode
}{
	{"gradlew", 0o755},
	{filepath.Join("gradle", "wrapper", "gradle-wrapper.jar"), 0o644},
}

var templates = template.Must(
	template.New("plugin").
		Funcs(template.FuncMap{"javaString": javaString}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

// Manifest records what a project was generated from.
type Manifest struct {
	PluginName        string   `yaml:"plugin_name"`
	VulnerabilityType string   `yaml:"vulnerability_type"`
	ClassName         string   `yaml:"class_name"`
	Description       string   `yaml:"description"`
	Recommendation    string   `yaml:"recommendation"`
	Endpoints         []string `yaml:"endpoints"`
	Payloads          []string `yaml:"payloads"`
	Imports           []string `yaml:"imports"`
	Versions          Versions `yaml:"versions"`
}

type templateData struct {
	PluginName      string
	ClassName       string
	JavaPackage     string
	BaselineImports []string
	ExtraImports    []string
	Method          string
	Title           string
	Description     string
	Recommendation  string
	VulnerabilityID string
	Versions        Versions
}

// Assembler writes plugin projects under an output directory.
type Assembler struct {
	logger     *zap.Logger
	outputDir  string
	exampleDir string
	versions   Versions
	history    *History
}

// NewAssembler creates an Assembler from the forge configuration. Paths may
// start with "~".
func NewAssembler(logger *zap.Logger, cfg config.ForgeConfig) (*Assembler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	outputDir, err := homedir.Expand(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand output directory %q: %w", cfg.OutputDir, err)
	}
	exampleDir, err := homedir.Expand(cfg.ExamplePluginDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand example plugin directory %q: %w", cfg.ExamplePluginDir, err)
	}

	a := &Assembler{
		logger:     logger.Named("templater"),
		outputDir:  outputDir,
		exampleDir: exampleDir,
		versions:   DefaultVersions,
	}
	if cfg.History.Enabled {
		a.history = NewHistory(cfg.History.AuthorName, cfg.History.AuthorEmail)
	}
	return a, nil
}

// OutputDir is the directory projects are written to.
func (a *Assembler) OutputDir() string { return a.outputDir }

// ProjectDir returns where the project for pluginName lives.
func (a *Assembler) ProjectDir(pluginName string) string {
	return filepath.Join(a.outputDir, ProjectName(pluginName))
}

// Assemble renders artifact into its project directory, overwriting any
// previous revision, and returns the directory.
func (a *Assembler) Assemble(ctx context.Context, artifact *schemas.Artifact) (string, error) {
	if artifact == nil {
		return "", errors.New("templater: nil artifact")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := a.ProjectDir(artifact.Name)
	className := ClassName(artifact.Name)
	javaDir := filepath.Join(dir, "src", "main", "java", filepath.FromSlash(strings.ReplaceAll(JavaPackage, ".", "/")))
	if err := os.MkdirAll(javaDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directories: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "gradle", "wrapper"), 0o755); err != nil {
		return "", fmt.Errorf("failed to create gradle wrapper directory: %w", err)
	}

	method := strings.TrimSpace(artifact.Code)
	if method == "" {
		method = extract.PlaceholderCode
	}
	data := templateData{
		PluginName:      artifact.Name,
		ClassName:       className,
		JavaPackage:     JavaPackage,
		BaselineImports: baselineImports,
		ExtraImports:    ExtraImports(artifact.Imports),
		Method:          method,
		Title:           strings.ReplaceAll(artifact.VulnerabilityType, "_", " ") + " Vulnerability Exposed",
		Description:     artifact.Description,
		Recommendation:  artifact.Recommendation,
		VulnerabilityID: strings.ToUpper(ProjectName(artifact.Name)),
		Versions:        a.versions,
	}

	files := []struct {
		tmpl string
		path string
	}{
		{"build.gradle.tmpl", filepath.Join(dir, "build.gradle")},
		{"settings.gradle.tmpl", filepath.Join(dir, "settings.gradle")},
		{"gradle-wrapper.properties.tmpl", filepath.Join(dir, "gradle", "wrapper", "gradle-wrapper.properties")},
		{"Detector.java.tmpl", filepath.Join(javaDir, className+".java")},
		{"BootstrapModule.java.tmpl", filepath.Join(javaDir, className+"BootstrapModule.java")},
	}
	for _, f := range files {
		if err := renderFile(f.tmpl, f.path, data); err != nil {
			return "", err
		}
	}

	if err := a.copyWrapper(dir); err != nil {
		return "", err
	}
	if err := a.writeManifest(dir, className, artifact); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\n.gradle/\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write .gitignore: %w", err)
	}

	if a.history != nil {
		hash, err := a.history.Record(dir, fmt.Sprintf("Assemble %s", className))
		if err != nil {
			// A failed commit does not fail assembly.
			a.logger.Warn("Failed to record project history.", zap.String("dir", dir), zap.Error(err))
		} else if hash != "" {
			a.logger.Debug("Recorded project revision.", zap.String("dir", dir), zap.String("commit", hash))
		}
	}

	a.logger.Info("Assembled plugin project.", zap.String("plugin", artifact.Name), zap.String("dir", dir))
	return dir, nil
}

func renderFile(name, path string, data templateData) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// copyWrapper copies the gradle wrapper from the example plugin. A missing
// example is tolerated so projects can still be built with a system gradle.
func (a *Assembler) copyWrapper(dir string) error {
	for _, f := range wrapperFiles {
		src := filepath.Join(a.exampleDir, f.path)
		err := copyFile(src, filepath.Join(dir, f.path), f.mode)
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("Gradle wrapper file not found in example plugin.", zap.String("path", src))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.path, err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}

func (a *Assembler) writeManifest(dir, className string, artifact *schemas.Artifact) error {
	m := Manifest{
		PluginName:        artifact.Name,
		VulnerabilityType: artifact.VulnerabilityType,
		ClassName:         className,
		Description:       artifact.Description,
		Recommendation:    artifact.Recommendation,
		Endpoints:         artifact.Endpoints,
		Payloads:          artifact.Payloads,
		Imports:           ExtraImports(artifact.Imports),
		Versions:          a.versions,
	}
	raw, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of the project in dir.
func ReadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest in %s: %w", dir, err)
	}
	return &m, nil
}
