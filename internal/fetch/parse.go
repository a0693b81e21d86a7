package fetch

import (
	"regexp"
	"strings"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

// GitHub constrains owner names to alphanumerics and hyphens; repository
// names additionally allow dots and underscores.
var (
	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ParseRepoURL extracts owner and name from the accepted spellings of a
// GitHub repository: a full http(s) URL with an optional .git suffix, a
// bare github.com/owner/name, or plain owner/name. Anything else is
// rejected as bad input.
func ParseRepoURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", apperr.New(apperr.BadInput, "repository url is empty")
	}

	if i := strings.Index(s, "://"); i >= 0 {
		scheme := strings.ToLower(s[:i])
		if scheme != "https" && scheme != "http" {
			return "", "", apperr.New(apperr.BadInput, "unsupported scheme in repository url %q", raw)
		}
		s = s[i+3:]
	}
	if host, rest, ok := strings.Cut(s, "/"); ok && strings.EqualFold(host, "github.com") {
		s = rest
	}

	s = strings.Trim(s, "/")
	s = strings.TrimSuffix(s, ".git")

	owner, name, ok := strings.Cut(s, "/")
	if !ok || !ownerPattern.MatchString(owner) || !namePattern.MatchString(name) {
		return "", "", apperr.New(apperr.BadInput,
			"cannot parse repository from %q, want owner/name or a github.com url", raw)
	}
	return owner, name, nil
}

// RepoID joins owner and name into the canonical repository identifier
// used across the store, the job queue and the query path.
func RepoID(owner, name string) string {
	return owner + "/" + name
}
