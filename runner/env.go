package runner

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Environment is a resolved set of variables for one step.
type Environment map[string]string

// MergeEnv layers maps onto each other; later layers win.
func MergeEnv(layers ...map[string]string) Environment {
	env := make(Environment)
	for _, layer := range layers {
		for k, v := range layer {
			env[k] = v
		}
	}
	return env
}

// ProcessEnv returns the current process environment as a map.
func ProcessEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// List returns KEY=VALUE pairs sorted by key, suitable for exec.Cmd.Env.
func (e Environment) List() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e[k])
	}
	return out
}

// Expand replaces ${VAR} and $VAR references; unknown variables expand to "".
// $$ is a literal $.
func (e Environment) Expand(s string) string {
	return os.Expand(s, func(key string) string {
		if key == "$" {
			return "$"
		}
		return e[key]
	})
}

// loadEnvFile reads a dotenv file for the pipeline-level env layer.
func loadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return values, nil
}

// artifactEnvName turns an artifact name into the ARTIFACT_<NAME> variable
// that carries its resolved path.
func artifactEnvName(name string) string {
	var b strings.Builder
	b.WriteString("ARTIFACT_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
