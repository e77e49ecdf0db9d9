package sandbox

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	manifestName    = "codecontext-execution"
	manifestVersion = "1.0.0"
	latestVersion   = "latest"

	packageManifestFile = "package.json"
	requirementsFile    = "requirements.txt"
)

type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         string            `json:"main"`
	Dependencies map[string]string `json:"dependencies"`
}

// Materializer writes submitted source and manifests into a workspace.
type Materializer struct {
	fs FileSystem
}

// NewMaterializer creates a Materializer backed by fs.
func NewMaterializer(fs FileSystem) *Materializer {
	return &Materializer{fs: fs}
}

// Materialize writes main.<ext> plus the language manifest and returns the
// entry-point filename.
func (m *Materializer) Materialize(dir string, req ExecutionRequest) (string, error) {
	spec, err := lookupLanguage(req.Language)
	if err != nil {
		return "", err
	}

	fileName := "main." + spec.extension
	if err := m.fs.WriteFile(filepath.Join(dir, fileName), []byte(req.Code), FilePermission); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrMaterialization, fileName, err)
	}

	deps := mergeDependencies(req)

	switch {
	case spec.npm:
		manifest := packageManifest{
			Name:         manifestName,
			Version:      manifestVersion,
			Main:         fileName,
			Dependencies: DependencyMap(deps),
		}
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return "", fmt.Errorf("%w: encode %s: %v", ErrMaterialization, packageManifestFile, err)
		}
		if err := m.fs.WriteFile(filepath.Join(dir, packageManifestFile), data, FilePermission); err != nil {
			return "", fmt.Errorf("%w: write %s: %v", ErrMaterialization, packageManifestFile, err)
		}
	case req.Language == LanguagePython && len(deps) > 0:
		data := []byte(strings.Join(deps, "\n"))
		if err := m.fs.WriteFile(filepath.Join(dir, requirementsFile), data, FilePermission); err != nil {
			return "", fmt.Errorf("%w: write %s: %v", ErrMaterialization, requirementsFile, err)
		}
	}

	return fileName, nil
}

// ParseDependency splits "name@version" into its parts. A missing version
// is reported as "latest". A leading '@' belongs to the (scoped) name.
func ParseDependency(dep string) (string, string) {
	idx := strings.LastIndex(dep, "@")
	if idx <= 0 {
		return dep, latestVersion
	}
	name, version := dep[:idx], dep[idx+1:]
	if version == "" {
		version = latestVersion
	}
	return name, version
}

// DependencyMap builds the package.json dependency object.
func DependencyMap(deps []string) map[string]string {
	out := make(map[string]string, len(deps))
	for _, dep := range deps {
		name, version := ParseDependency(dep)
		if name == "" {
			continue
		}
		out[name] = version
	}
	return out
}

// mergeDependencies prepends the project's installed packages that the
// request does not already name.
func mergeDependencies(req ExecutionRequest) []string {
	if req.ProjectContext == nil || len(req.ProjectContext.InstalledPackages) == 0 {
		return req.Dependencies
	}

	named := make(map[string]bool, len(req.Dependencies))
	for _, dep := range req.Dependencies {
		name, _ := ParseDependency(dep)
		named[name] = true
	}

	merged := make([]string, 0, len(req.ProjectContext.InstalledPackages)+len(req.Dependencies))
	for _, pkg := range req.ProjectContext.InstalledPackages {
		name, _ := ParseDependency(pkg)
		if name == "" || named[name] {
			continue
		}
		named[name] = true
		merged = append(merged, pkg)
	}
	return append(merged, req.Dependencies...)
}
