package runner

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[string]ArtifactRef

func (r staticResolver) ResolveArtifact(name string) (ArtifactRef, error) {
	ref, ok := r[name]
	if !ok {
		return ArtifactRef{}, ErrArtifactNotFound
	}
	return ref, nil
}

func httpRequest(t *testing.T, step StepDefinition, artifacts ArtifactResolver) (StepRequest, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return StepRequest{
		Stage:     "release",
		Step:      step,
		Env:       Environment{"TOMCAT_PASSWORD": "s3cret"},
		Dir:       t.TempDir(),
		Artifacts: artifacts,
		Stdout:    &stdout,
		Stderr:    &stderr,
	}, &stdout, &stderr
}

func TestUploadExecutor(t *testing.T) {
	payload := []byte("PK\x03\x04 war bytes")
	var gotBody []byte
	var gotMethod, gotType, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	war := filepath.Join(t.TempDir(), "app.war")
	require.NoError(t, os.WriteFile(war, payload, 0644))

	step := StepDefinition{Name: "s3", Uses: "upload", With: map[string]any{
		"artifact":     "app.war",
		"url":          srv.URL + "/bucket/app.war?X-Amz-Signature=secret",
		"content_type": "application/java-archive",
	}}
	req, stdout, _ := httpRequest(t, step, staticResolver{"app.war": {Name: "app.war", Path: war}})

	code, err := UploadExecutor{}.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/java-archive", gotType)
	assert.Equal(t, "X-Amz-Signature=secret", gotQuery)
	assert.Equal(t, payload, gotBody)
	assert.NotContains(t, stdout.String(), "secret", "signatures are redacted from logs")
}

func TestUploadExecutor_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	t.Run("rejected by server", func(t *testing.T) {
		step := StepDefinition{Name: "s3", Uses: "upload", With: map[string]any{"source": "app.war", "url": srv.URL}}
		req, _, stderr := httpRequest(t, step, nil)
		require.NoError(t, os.WriteFile(filepath.Join(req.Dir, "app.war"), []byte("x"), 0644))

		code, err := UploadExecutor{}.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "403")
		assert.Contains(t, stderr.String(), "AccessDenied")
	})

	t.Run("missing source file", func(t *testing.T) {
		step := StepDefinition{Name: "s3", Uses: "upload", With: map[string]any{"source": "missing.war", "url": srv.URL}}
		req, _, stderr := httpRequest(t, step, nil)

		code, err := UploadExecutor{}.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "failed to open source file")
	})
}

func TestDeployExecutor(t *testing.T) {
	var gotPath, gotQuery, gotUser, gotPass string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, gotPass, _ = r.BasicAuth()
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, "OK - Deployed application at context path [/app]\n")
	}))
	defer srv.Close()

	step := StepDefinition{Name: "tomcat", Uses: "deploy", With: map[string]any{
		"source":       "target/app.war",
		"url":          srv.URL + "/manager/text",
		"context_path": "/app",
		"username":     "deployer",
		"password_env": "TOMCAT_PASSWORD",
	}}
	req, stdout, _ := httpRequest(t, step, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(req.Dir, "target"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(req.Dir, "target", "app.war"), []byte("war"), 0644))

	code, err := DeployExecutor{}.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "/manager/text/deploy", gotPath)
	assert.Equal(t, "path=%2Fapp&update=true", gotQuery)
	assert.Equal(t, "deployer", gotUser)
	assert.Equal(t, "s3cret", gotPass)
	assert.Equal(t, []byte("war"), gotBody)
	assert.Contains(t, stdout.String(), "OK - Deployed")
}

func TestDeployExecutor_RefusedDeployment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "FAIL - Application already exists at path [/app]\n")
	}))
	defer srv.Close()

	step := StepDefinition{Name: "tomcat", Uses: "deploy", With: map[string]any{
		"source":       "app.war",
		"url":          srv.URL,
		"context_path": "/app",
		"update":       false,
	}}
	req, _, stderr := httpRequest(t, step, nil)
	require.NoError(t, os.WriteFile(filepath.Join(req.Dir, "app.war"), []byte("war"), 0644))

	code, err := DeployExecutor{}.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "FAIL - Application already exists")
}

func TestRedactURL(t *testing.T) {
	u, err := url.Parse("https://user:pw@bucket.example.com/app.war?X-Amz-Signature=abc#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example.com/app.war", redactURL(u))
}
