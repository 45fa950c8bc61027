package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileNames are the pipeline files looked up in a project directory, in order.
var ConfigFileNames = []string{"stagego.yml", "stagego.yaml", "stagego.hcl"}

// Project is a named directory containing a pipeline definition.
type Project struct {
	Name        string `yaml:"name" json:"name"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ProjectsConfig holds the list of all projects
type ProjectsConfig struct {
	Projects []Project `yaml:"projects" json:"projects"`
}

// LoadProjects loads the projects configuration from a YAML file
func LoadProjects(configPath string) (*ProjectsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects config: %w", err)
	}

	var config ProjectsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse projects config: %w", err)
	}

	seen := make(map[string]bool)
	for i, p := range config.Projects {
		if p.Name == "" || p.Path == "" {
			return nil, fmt.Errorf("project %d: name and path are required", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate project name: %s", p.Name)
		}
		seen[p.Name] = true
	}
	return &config, nil
}

// GetProject returns a project by name
func (pc *ProjectsConfig) GetProject(name string) (*Project, error) {
	for i := range pc.Projects {
		if pc.Projects[i].Name == name {
			return &pc.Projects[i], nil
		}
	}
	return nil, fmt.Errorf("project '%s' not found", name)
}

// Dir returns the project's directory, resolved against baseDir.
func (p *Project) Dir(baseDir string) string {
	if filepath.IsAbs(p.Path) {
		return p.Path
	}
	return filepath.Join(baseDir, p.Path)
}

// ConfigPath returns the first pipeline file found in the project directory.
func (p *Project) ConfigPath(baseDir string) (string, error) {
	dir := p.Dir(baseDir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("project path does not exist: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %s is not a directory", dir)
	}

	for _, name := range ConfigFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no pipeline file found in %s", dir)
}
