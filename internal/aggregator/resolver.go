package aggregator

import (
	"path/filepath"
	"strings"

	"github.com/sdpower/claude-usage/internal/types"
)

// UnknownProject is used when a record carries no project information.
const UnknownProject = "unknown"

// SessionKey names the session a record belongs to. Key is the map key;
// SessionID and ProjectPath are used only when the session is first created.
type SessionKey struct {
	Key         string
	SessionID   string
	ProjectPath string
}

// SessionResolver maps a record to its session.
type SessionResolver interface {
	Resolve(rec types.UsageRecord) SessionKey
}

// DirResolver groups every record of one file under the file's directory.
type DirResolver struct {
	key SessionKey
}

func NewDirResolver(sessionDir string) DirResolver {
	return DirResolver{key: SessionKey{
		Key:         sessionDir,
		SessionID:   filepath.Base(sessionDir),
		ProjectPath: ProjectName(sessionDir),
	}}
}

func (r DirResolver) Resolve(types.UsageRecord) SessionKey {
	return r.key
}

// MessageResolver keys live records by message id. The stream carries no
// directory, so every distinct message becomes its own session.
type MessageResolver struct{}

func (MessageResolver) Resolve(rec types.UsageRecord) SessionKey {
	id := rec.Message.ID
	if id == "" {
		id = rec.SessionID
	}
	if id == "" {
		id = UnknownProject
	}
	return SessionKey{Key: id, SessionID: id, ProjectPath: UnknownProject}
}

// ProjectName derives a short project label from a session directory:
//
//	~/.claude/projects/-home-u-work-api  -> projects/api
//	~/.claude/projects/notes             -> projects/notes
//	~/.claude/vms/dev/projects/-x-y      -> vms/dev
//
// Paths outside a .claude tree fall back to the directory name.
func ProjectName(sessionDir string) string {
	full := filepath.ToSlash(sessionDir)
	base := filepath.Base(sessionDir)

	const marker = "/.claude/"
	idx := strings.Index(full, marker)
	if idx < 0 {
		return base
	}
	rest := full[idx+len(marker):]

	if project, ok := strings.CutPrefix(rest, "projects/"); ok {
		if !strings.HasPrefix(project, "-") {
			return "projects/" + project
		}
		suffix := project[strings.LastIndex(project, "-")+1:]
		if suffix == "" || suffix == "projects" {
			return "projects"
		}
		return "projects/" + suffix
	}

	if vm, ok := strings.CutPrefix(rest, "vms/"); ok {
		if name, _, found := strings.Cut(vm, "/"); found {
			return "vms/" + name
		}
		return rest
	}

	return base
}

// DisplayName strips the leading dash Claude puts on encoded directory names.
func DisplayName(sessionDir string) string {
	return strings.TrimPrefix(filepath.Base(sessionDir), "-")
}
