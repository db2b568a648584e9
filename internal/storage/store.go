// Package storage stores project attachments behind an upload/URL interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeline/internal/config"
)

var ErrNotFound = errors.New("object not found")

// Store uploads attachment bytes and resolves references to fetchable URLs.
type Store interface {
	Upload(ctx context.Context, projectID, name, contentType string, data []byte) (string, error)
	URLFor(ctx context.Context, ref string) (string, error)
}

// New builds the store selected by env. dataDir is the fallback root for the fs provider.
func New(ctx context.Context, env config.StorageEnv, dataDir string) (Store, error) {
	switch strings.ToLower(env.Provider) {
	case "", "fs", "filesystem":
		dir := env.Dir
		if dir == "" {
			dir = path.Join(dataDir, "attachments")
		}
		return NewFS(dir)
	case "s3":
		return NewS3(ctx, env)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", env.Provider)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey derives a collision-free key: <project>/<yyyy-mm-dd>/<uuid>-<name>.
func objectKey(projectID, name string, now time.Time) string {
	name = unsafeName.ReplaceAllString(path.Base(name), "_")
	if name == "" || name == "." || name == "_" {
		name = "file"
	}
	project := unsafeName.ReplaceAllString(projectID, "_")
	return path.Join(project, now.UTC().Format("2006-01-02"), uuid.NewString()+"-"+name)
}

func validRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid attachment ref %q", ref)
	}
	return nil
}
