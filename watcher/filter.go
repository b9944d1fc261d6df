package watcher

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// securityPathMarkers flag paths whose changes always warrant a security
// scan regardless of extension.
var securityPathMarkers = []string{
	".env", "secret", "credential", "password", ".pem", ".key", "id_rsa",
	"vault", "auth",
}

// buildFileNames mark build and dependency manifests that raise batch
// priority.
var buildFileNames = map[string]bool{
	"go.mod": true, "go.sum": true, "package.json": true, "package-lock.json": true,
	"requirements.txt": true, "pyproject.toml": true, "pom.xml": true,
	"build.gradle": true, "cargo.toml": true, "gemfile": true, "makefile": true,
	"dockerfile": true, "docker-compose.yml": true,
}

// Filter classifies file paths for the batcher: ignored, source, build or
// security relevant.
type Filter struct {
	ignoreGlobs []string
	sourceExts  map[string]bool
}

// NewFilter builds a filter from doublestar ignore globs and a source
// extension allowlist.
func NewFilter(ignoreGlobs, sourceExts []string) *Filter {
	exts := make(map[string]bool, len(sourceExts))
	for _, ext := range sourceExts {
		exts[strings.ToLower(ext)] = true
	}
	return &Filter{ignoreGlobs: ignoreGlobs, sourceExts: exts}
}

// Ignored reports whether the path matches any ignore glob.
func (f *Filter) Ignored(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, glob := range f.ignoreGlobs {
		if ok, _ := doublestar.Match(glob, normalized); ok {
			return true
		}
	}
	return false
}

// IsSource reports whether the path has a source-code extension.
func (f *Filter) IsSource(path string) bool {
	return f.sourceExts[strings.ToLower(filepath.Ext(path))]
}

// IsBuildFile reports whether the path is a build or dependency manifest.
func (f *Filter) IsBuildFile(path string) bool {
	return buildFileNames[strings.ToLower(filepath.Base(path))]
}

// IsSecurityRelevant reports whether the path looks like it holds secrets
// or credentials.
func (f *Filter) IsSecurityRelevant(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, marker := range securityPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// InGitDir reports whether the path is inside the repository's .git
// directory.
func (f *Filter) InGitDir(path string) bool {
	normalized := filepath.ToSlash(path)
	return strings.Contains(normalized, "/.git/") || strings.HasPrefix(normalized, ".git/")
}
