package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifact_AddImport(t *testing.T) {
	t.Parallel()
	a := &Artifact{}

	assert.True(t, a.AddImport("import java.util.List;"))
	assert.False(t, a.AddImport("  import java.util.List;  "), "duplicates are ignored after trimming")
	assert.False(t, a.AddImport("   "))
	assert.True(t, a.AddImport("import java.util.Map;"))

	assert.Equal(t, []string{"import java.util.List;", "import java.util.Map;"}, a.Imports)
}

func TestArtifact_Clone(t *testing.T) {
	t.Parallel()
	orig := &Artifact{Name: "x", Imports: []string{"import a;"}, Payloads: []string{"p"}}
	c := orig.Clone()
	c.Imports[0] = "import b;"
	c.Payloads = append(c.Payloads, "q")

	assert.Equal(t, "import a;", orig.Imports[0])
	assert.Len(t, orig.Payloads, 1)
	assert.Nil(t, (*Artifact)(nil).Clone())
}
