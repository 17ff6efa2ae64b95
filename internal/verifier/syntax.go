package verifier

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tsunami-forge/api/schemas"
)

// Diagnostic is a single syntax problem found in a Java source file.
type Diagnostic struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}

// CheckJava parses src and returns the syntax errors tree-sitter reports.
// Line and column are 1-based.
func CheckJava(ctx context.Context, src []byte) ([]Diagnostic, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse java source: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}
	var diags []Diagnostic
	collectErrors(root, &diags)
	if len(diags) == 0 {
		// HasError was set but no node was flagged; report the file as a whole.
		diags = append(diags, Diagnostic{Line: 1, Column: 1, Message: "syntax error"})
	}
	return diags, nil
}

func collectErrors(n *sitter.Node, out *[]Diagnostic) {
	if n == nil {
		return
	}
	if n.IsMissing() || n.IsError() {
		p := n.StartPoint()
		msg := "syntax error"
		if n.IsMissing() {
			msg = fmt.Sprintf("missing %q", n.Type())
		}
		*out = append(*out, Diagnostic{Line: int(p.Row) + 1, Column: int(p.Column) + 1, Message: msg})
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectErrors(n.Child(i), out)
	}
}

// SyntaxGate parses every Java file of a project before handing it to the
// next verifier. Projects with syntax errors fail without running the build.
type SyntaxGate struct {
	logger     *zap.Logger
	next       Verifier
	sourceRoot string
}

// NewSyntaxGate wraps next. Sources are looked up under src/main/java of the
// project location.
func NewSyntaxGate(logger *zap.Logger, next Verifier) *SyntaxGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyntaxGate{
		logger:     logger.Named("syntax_gate"),
		next:       next,
		sourceRoot: filepath.Join("src", "main", "java"),
	}
}

// Verify implements the same contract as BuildVerifier.Verify.
func (g *SyntaxGate) Verify(ctx context.Context, location string) schemas.VerificationOutcome {
	diags, err := g.check(ctx, location)
	if err != nil {
		// A gate that cannot read the sources steps aside; the build will
		// produce a better message.
		g.logger.Warn("Syntax pre-check skipped.", zap.String("location", location), zap.Error(err))
		return g.next.Verify(ctx, location)
	}
	if len(diags) > 0 {
		lines := make([]string, 0, len(diags))
		for _, d := range diags {
			lines = append(lines, d.String())
		}
		g.logger.Info("Syntax pre-check failed.", zap.String("location", location), zap.Int("errors", len(diags)))
		return schemas.VerificationOutcome{
			Output:   "Syntax pre-check failed:\n" + strings.Join(lines, "\n"),
			ExitCode: 1,
		}
	}
	return g.next.Verify(ctx, location)
}

func (g *SyntaxGate) check(ctx context.Context, location string) ([]Diagnostic, error) {
	root := filepath.Join(location, g.sourceRoot)
	var diags []Diagnostic
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".java") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		found, err := CheckJava(ctx, src)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(location, path)
		for _, d := range found {
			d.File = filepath.ToSlash(rel)
			diags = append(diags, d)
		}
		return nil
	})
	return diags, err
}
