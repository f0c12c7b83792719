package model

import (
	"fmt"
	"path"
	"strings"
)

// DefaultControllersDir is where competitor controllers are fetched to.
const DefaultControllersDir = "controllers"

// Competitor identifies one participant and the controller directory built for it.
type Competitor struct {
	ID             string
	Owner          string
	Repository     string
	ControllerName string
	ControllerPath string
}

// ParseCompetitor reads an "id:owner/repo" line. Any further colon-separated
// fields (a previous result) are ignored.
func ParseCompetitor(line string) (Competitor, error) {
	fields := strings.Split(strings.TrimSpace(line), ":")
	if len(fields) < 2 {
		return Competitor{}, fmt.Errorf("%w: %q", ErrInvalidCompetitor, line)
	}
	id := strings.TrimSpace(fields[0])
	owner, repo, ok := strings.Cut(strings.TrimSpace(fields[1]), "/")
	if id == "" || !ok || owner == "" || repo == "" || strings.ContainsAny(id, " \t/") {
		return Competitor{}, fmt.Errorf("%w: %q", ErrInvalidCompetitor, line)
	}
	name := ControllerNameFor(id, owner)
	return Competitor{
		ID:             id,
		Owner:          owner,
		Repository:     repo,
		ControllerName: name,
		ControllerPath: path.Join(DefaultControllersDir, name),
	}, nil
}

// InDir returns a copy whose controller lives under dir.
func (c Competitor) InDir(dir string) Competitor {
	c.ControllerPath = path.Join(dir, c.ControllerName)
	return c
}

// RepositoryRef is the owner/repo reference persisted in result lines.
func (c Competitor) RepositoryRef() string {
	return c.Owner + "/" + c.Repository
}

// ControllerNameFor derives "competitor_<id>_<owner>" restricted to [a-z0-9_],
// so it can name a directory and a container.
func ControllerNameFor(id, owner string) string {
	return "competitor_" + sanitize(id) + "_" + sanitize(owner)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	underscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return b.String()
}
