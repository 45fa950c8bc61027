package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactNamespace(t *testing.T) {
	ns, err := NewArtifactNamespace(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "app.war")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))

	ref, err := ns.Publish("package", "app.war", src)
	require.NoError(t, err)
	assert.Equal(t, "package", ref.Stage)
	assert.Equal(t, int64(2), ref.Size)
	assert.Equal(t, ".war", filepath.Ext(ref.Path))
	assert.Equal(t, filepath.Join(ns.Dir(), "objects", ref.Checksum[:2]), filepath.Dir(ref.Path))

	got, err := ns.Resolve("app.war")
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	// later publications of the same name win
	require.NoError(t, os.WriteFile(src, []byte("v2"), 0644))
	ref2, err := ns.Publish("repackage", "app.war", src)
	require.NoError(t, err)
	assert.NotEqual(t, ref.Checksum, ref2.Checksum)

	got, err = ns.Resolve("app.war")
	require.NoError(t, err)
	assert.Equal(t, "repackage", got.Stage)
	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = ns.Resolve("missing")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	assert.Len(t, ns.Snapshot(), 1)

	require.NoError(t, ns.Discard())
	_, err = os.Stat(ns.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestArtifactNamespace_RejectsDirectories(t *testing.T) {
	ns, err := NewArtifactNamespace(t.TempDir())
	require.NoError(t, err)

	_, err = ns.Publish("build", "dist", t.TempDir())
	assert.ErrorContains(t, err, "is a directory")

	_, err = ns.Publish("build", "missing", filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerifyArtifact_DetectsTampering(t *testing.T) {
	ns, err := NewArtifactNamespace(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("clean"), 0644))

	ref, err := ns.Publish("scan", "report", src)
	require.NoError(t, err)
	ok, err := VerifyArtifact(ref)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(ref.Path, []byte("tampered"), 0644))
	ok, err = VerifyArtifact(ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeEnv(t *testing.T) {
	env := MergeEnv(
		map[string]string{"A": "process", "B": "process"},
		nil,
		map[string]string{"B": "pipeline", "C": "pipeline"},
	)
	assert.Equal(t, Environment{"A": "process", "B": "pipeline", "C": "pipeline"}, env)
	assert.Equal(t, []string{"A=process", "B=pipeline", "C=pipeline"}, env.List())
	assert.Equal(t, "pipeline-process-", env.Expand("${B}-$A-$MISSING"))
	assert.Equal(t, "cost $5 $A", env.Expand("cost $$5 $$A"))
}

func TestArtifactEnvName(t *testing.T) {
	assert.Equal(t, "ARTIFACT_APP_WAR", artifactEnvName("app.war"))
	assert.Equal(t, "ARTIFACT_SONAR_REPORT_2", artifactEnvName("sonar-report-2"))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# ci settings\nREGISTRY=registry.local\nexport TOKEN=\"abc def\"\n"), 0644))

	values, err := loadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REGISTRY": "registry.local", "TOKEN": "abc def"}, values)

	values, err = loadEnvFile("")
	require.NoError(t, err)
	assert.Nil(t, values)

	_, err = loadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
