package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Retention policies for the run-scoped artifact store.
const (
	RetainNone   = "none"
	RetainAlways = "always"
)

// ArtifactRef points at a published artifact inside the run's store.
type ArtifactRef struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	Stage    string `json:"stage,omitempty"`
}

// ArtifactNamespace is the run-scoped name → artifact table. Published files
// are copied into a content-addressed store under dir, so later stages see
// exactly the bytes that were published even if the workspace changes.
// A namespace belongs to one run and is accessed sequentially.
type ArtifactNamespace struct {
	dir  string
	refs map[string]ArtifactRef
}

// NewArtifactNamespace creates the store directory.
func NewArtifactNamespace(dir string) (*ArtifactNamespace, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}
	return &ArtifactNamespace{dir: dir, refs: make(map[string]ArtifactRef)}, nil
}

// Dir returns the store directory.
func (n *ArtifactNamespace) Dir() string {
	return n.dir
}

// Publish copies src into the store and records it under name, replacing any
// earlier artifact of the same name.
func (n *ArtifactNamespace) Publish(stage, name, src string) (ArtifactRef, error) {
	in, err := os.Open(src)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to open artifact %s: %w", name, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to stat artifact %s: %w", name, err)
	}
	if info.IsDir() {
		return ArtifactRef{}, fmt.Errorf("artifact %s: %s is a directory", name, src)
	}

	tmp, err := os.CreateTemp(filepath.Join(n.dir, "objects"), ".incoming-*")
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to stage artifact %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to copy artifact %s: %w", name, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	// shard by the first two hex characters
	shard := filepath.Join(n.dir, "objects", sum[:2])
	if err := os.MkdirAll(shard, 0755); err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to create artifact shard: %w", err)
	}
	dest := filepath.Join(shard, sum+filepath.Ext(src))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to store artifact %s: %w", name, err)
	}

	ref := ArtifactRef{Name: name, Path: dest, Checksum: sum, Size: size, Stage: stage}
	n.refs[name] = ref
	return ref, nil
}

// Resolve returns the artifact published under name.
func (n *ArtifactNamespace) Resolve(name string) (ArtifactRef, error) {
	ref, ok := n.refs[name]
	if !ok {
		return ArtifactRef{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return ref, nil
}

// Snapshot returns every published artifact, sorted by name.
func (n *ArtifactNamespace) Snapshot() []ArtifactRef {
	out := make([]ArtifactRef, 0, len(n.refs))
	for _, ref := range n.refs {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Discard deletes the store.
func (n *ArtifactNamespace) Discard() error {
	return os.RemoveAll(n.dir)
}

// VerifyArtifact re-hashes the stored file and reports whether it still
// matches the recorded checksum.
func VerifyArtifact(ref ArtifactRef) (bool, error) {
	f, err := os.Open(ref.Path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == ref.Checksum, nil
}
