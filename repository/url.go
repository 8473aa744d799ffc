package repository

import (
	"net/url"
	"path/filepath"
	"strings"
)

// normalizeURL turns a repository URL into a filesystem-safe relative path.
//
// Examples:
//   - https://github.com/my/repo.git → github.com/my/repo
//   - git@github.com:my/repo → github.com/my/repo
//   - file:///srv/git/repo → srv/git/repo
//   - /srv/git/repo → srv/git/repo
func normalizeURL(rawURL string) string {
	rawURL = strings.TrimSuffix(strings.TrimSuffix(rawURL, "/"), ".git")

	// SSH shorthand: git@host:path
	if strings.Contains(rawURL, "@") && strings.Contains(rawURL, ":") && !strings.Contains(rawURL, "://") {
		parts := strings.SplitN(rawURL, "@", 2)
		hostPath := strings.Replace(parts[1], ":", "/", 1)
		return cleanRelative(hostPath)
	}

	parsed, err := url.Parse(rawURL)
	if err == nil && parsed.Scheme != "" && strings.Contains(rawURL, "://") {
		return cleanRelative(parsed.Host + "/" + parsed.Path)
	}

	return cleanRelative(rawURL)
}

// cleanRelative strips leading separators and any ".." elements so the result
// always stays below the checkout root.
func cleanRelative(p string) string {
	parts := strings.FieldsFunc(filepath.ToSlash(p), func(r rune) bool { return r == '/' })
	kept := parts[:0]
	for _, part := range parts {
		if part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return filepath.Join(kept...)
}
