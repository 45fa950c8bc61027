package runner

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// httpClient is shared by the upload and deploy executors to reuse connections.
var httpClient = &http.Client{}

// sourceOptions selects the file an HTTP executor sends: a published
// artifact or a path relative to the step directory.
type sourceOptions struct {
	Artifact string `yaml:"artifact"`
	Source   string `yaml:"source"`
}

func (o sourceOptions) validate() error {
	switch {
	case o.Artifact == "" && o.Source == "":
		return fmt.Errorf("one of artifact or source is required")
	case o.Artifact != "" && o.Source != "":
		return fmt.Errorf("artifact and source are mutually exclusive")
	}
	return nil
}

func (o sourceOptions) resolve(req StepRequest) (string, error) {
	if o.Artifact != "" {
		if req.Artifacts == nil {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, o.Artifact)
		}
		ref, err := req.Artifacts.ResolveArtifact(o.Artifact)
		if err != nil {
			return "", err
		}
		return ref.Path, nil
	}
	p := req.Env.Expand(o.Source)
	if !filepath.IsAbs(p) {
		p = filepath.Join(req.Dir, p)
	}
	return p, nil
}

// UploadExecutor sends a file to object storage through a pre-signed URL.
type UploadExecutor struct{}

type uploadOptions struct {
	sourceOptions `yaml:",inline"`
	URL           string `yaml:"url"`
	Method        string `yaml:"method"`
	ContentType   string `yaml:"content_type"`
}

func (o *uploadOptions) setDefaults() {
	if o.Method == "" {
		o.Method = http.MethodPut
	}
	o.Method = strings.ToUpper(o.Method)
}

func (UploadExecutor) options(step StepDefinition) (uploadOptions, error) {
	var opts uploadOptions
	if err := decodeOptions(step.With, &opts); err != nil {
		return opts, err
	}
	opts.setDefaults()
	return opts, nil
}

func (e UploadExecutor) Validate(step StepDefinition) error {
	if step.Run != "" || step.Command != "" {
		return fmt.Errorf("upload step cannot set run or command")
	}
	opts, err := e.options(step)
	if err != nil {
		return err
	}
	if opts.URL == "" {
		return fmt.Errorf("upload requires url")
	}
	if opts.Method != http.MethodPut && opts.Method != http.MethodPost {
		return fmt.Errorf("upload method must be PUT or POST, got %s", opts.Method)
	}
	return opts.sourceOptions.validate()
}

func (e UploadExecutor) ConsumedArtifacts(step StepDefinition) []string {
	opts, err := e.options(step)
	if err != nil || opts.Artifact == "" {
		return nil
	}
	return []string{opts.Artifact}
}

func (e UploadExecutor) Execute(ctx context.Context, req StepRequest) (int, error) {
	opts, err := e.options(req.Step)
	if err != nil {
		return -1, launchError(req.Step.Name, err)
	}

	source, err := opts.resolve(req)
	if err != nil {
		fmt.Fprintf(req.Stderr, "cannot resolve upload source: %v\n", err)
		return 1, nil
	}
	file, err := os.Open(source)
	if err != nil {
		fmt.Fprintf(req.Stderr, "failed to open source file '%s': %v\n", source, err)
		return 1, nil
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		fmt.Fprintf(req.Stderr, "failed to get file stats for '%s': %v\n", source, err)
		return 1, nil
	}

	target := req.Env.Expand(opts.URL)
	httpReq, err := http.NewRequestWithContext(ctx, opts.Method, target, file)
	if err != nil {
		return -1, launchError(req.Step.Name, fmt.Errorf("failed to create upload request: %w", err))
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(source))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.ContentLength = stat.Size()

	fmt.Fprintf(req.Stdout, "Uploading %s (%d bytes, %s) to %s\n", filepath.Base(source), stat.Size(), contentType, redactURL(httpReq.URL))

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return -1, nil
		}
		fmt.Fprintf(req.Stderr, "upload request failed: %v\n", err)
		return 1, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(req.Stderr, "upload failed with status: %s\n%s\n", resp.Status, body)
		return 1, nil
	}

	fmt.Fprintf(req.Stdout, "Uploaded successfully: %s\n", resp.Status)
	return 0, nil
}

// DeployExecutor pushes a web archive to an application server through its
// manager text interface: PUT <url>/deploy?path=<context_path>&update=true.
type DeployExecutor struct{}

type deployOptions struct {
	sourceOptions `yaml:",inline"`
	URL           string `yaml:"url"`
	ContextPath   string `yaml:"context_path"`
	Username      string `yaml:"username"`
	PasswordEnv   string `yaml:"password_env"`
	Update        *bool  `yaml:"update"`
}

func (DeployExecutor) options(step StepDefinition) (deployOptions, error) {
	var opts deployOptions
	if err := decodeOptions(step.With, &opts); err != nil {
		return opts, err
	}
	if opts.Update == nil {
		update := true
		opts.Update = &update
	}
	return opts, nil
}

func (e DeployExecutor) Validate(step StepDefinition) error {
	if step.Run != "" || step.Command != "" {
		return fmt.Errorf("deploy step cannot set run or command")
	}
	opts, err := e.options(step)
	if err != nil {
		return err
	}
	if opts.URL == "" {
		return fmt.Errorf("deploy requires url")
	}
	if !strings.HasPrefix(opts.ContextPath, "/") {
		return fmt.Errorf("deploy context_path must start with /")
	}
	if opts.PasswordEnv != "" && opts.Username == "" {
		return fmt.Errorf("deploy password_env requires username")
	}
	return opts.sourceOptions.validate()
}

func (e DeployExecutor) ConsumedArtifacts(step StepDefinition) []string {
	opts, err := e.options(step)
	if err != nil || opts.Artifact == "" {
		return nil
	}
	return []string{opts.Artifact}
}

func (e DeployExecutor) Execute(ctx context.Context, req StepRequest) (int, error) {
	opts, err := e.options(req.Step)
	if err != nil {
		return -1, launchError(req.Step.Name, err)
	}

	endpoint, err := url.Parse(req.Env.Expand(opts.URL))
	if err != nil {
		return -1, launchError(req.Step.Name, fmt.Errorf("invalid deploy url: %w", err))
	}
	endpoint = endpoint.JoinPath("deploy")
	query := endpoint.Query()
	query.Set("path", req.Env.Expand(opts.ContextPath))
	if *opts.Update {
		query.Set("update", "true")
	}
	endpoint.RawQuery = query.Encode()

	source, err := opts.resolve(req)
	if err != nil {
		fmt.Fprintf(req.Stderr, "cannot resolve deploy archive: %v\n", err)
		return 1, nil
	}
	file, err := os.Open(source)
	if err != nil {
		fmt.Fprintf(req.Stderr, "failed to open deploy archive '%s': %v\n", source, err)
		return 1, nil
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		fmt.Fprintf(req.Stderr, "failed to get file stats for '%s': %v\n", source, err)
		return 1, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint.String(), file)
	if err != nil {
		return -1, launchError(req.Step.Name, fmt.Errorf("failed to create deploy request: %w", err))
	}
	httpReq.ContentLength = stat.Size()
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if opts.Username != "" {
		httpReq.SetBasicAuth(opts.Username, req.Env[opts.PasswordEnv])
	}

	fmt.Fprintf(req.Stdout, "Deploying %s to %s\n", filepath.Base(source), redactURL(endpoint))

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return -1, nil
		}
		fmt.Fprintf(req.Stderr, "deploy request failed: %v\n", err)
		return 1, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	message := strings.TrimSpace(string(body))

	// the manager answers 200 for refused deployments too; the verdict is the body prefix
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !strings.HasPrefix(message, "OK") {
		fmt.Fprintf(req.Stderr, "deploy failed with status: %s\n%s\n", resp.Status, message)
		return 1, nil
	}

	fmt.Fprintln(req.Stdout, message)
	return 0, nil
}

// redactURL drops credentials and query strings, which carry signatures for
// pre-signed uploads.
func redactURL(u *url.URL) string {
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	clean.Fragment = ""
	return clean.String()
}
