package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// RepoIdentity describes what a local checkout is, derived from its git
// metadata. Identity is the stable join key used by repo mappings.
type RepoIdentity struct {
	Identity string
	Head     string
	Branch   string
}

// stackMarkers maps manifest files to the stack label they imply.
var stackMarkers = map[string]string{
	"go.mod":           "go",
	"package.json":     "node",
	"requirements.txt": "python",
	"pyproject.toml":   "python",
	"pom.xml":          "java",
	"build.gradle":     "java",
	"cargo.toml":       "rust",
	"gemfile":          "ruby",
	"composer.json":    "php",
}

// ResolveIdentity derives the repository identity from the checkout at
// path. The origin remote URL wins; a detached or remote-less repository
// falls back to the absolute path.
func ResolveIdentity(path string) (*RepoIdentity, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}

	identity := path
	if abs, err := filepath.Abs(path); err == nil {
		identity = abs
	}
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			identity = normalizeRemoteURL(urls[0])
		}
	}

	result := &RepoIdentity{Identity: identity}
	if head, err := repo.Head(); err == nil {
		result.Head = head.Hash().String()
		if head.Name().IsBranch() {
			result.Branch = head.Name().Short()
		}
	}
	return result, nil
}

// DetectStack scans the repository root for known manifests.
func DetectStack(path string) []string {
	seen := map[string]bool{}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if stack, ok := stackMarkers[strings.ToLower(entry.Name())]; ok {
			seen[stack] = true
		}
	}

	stacks := make([]string, 0, len(seen))
	for stack := range seen {
		stacks = append(stacks, stack)
	}
	sort.Strings(stacks)
	return stacks
}

// normalizeRemoteURL strips credentials and the .git suffix so the same
// repository cloned over ssh and https maps to one identity.
func normalizeRemoteURL(url string) string {
	url = strings.TrimSuffix(url, ".git")
	if strings.HasPrefix(url, "git@") {
		// git@host:org/repo -> host/org/repo
		url = strings.TrimPrefix(url, "git@")
		url = strings.Replace(url, ":", "/", 1)
	}
	for _, prefix := range []string{"https://", "http://", "ssh://git@", "ssh://"} {
		url = strings.TrimPrefix(url, prefix)
	}
	if at := strings.Index(url, "@"); at >= 0 {
		url = url[at+1:]
	}
	return strings.ToLower(url)
}
