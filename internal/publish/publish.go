package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"ttcal/internal/config"
)

// Publisher pushes a built feed somewhere subscribers can reach it. The body
// is an opaque blob keyed by user.
type Publisher interface {
	Publish(ctx context.Context, user string, body []byte) error
	Name() string
}

// ObjectKey is the artifact name for user, e.g. "k.thang19.ics".
func ObjectKey(prefix, user string) string {
	key := user + ".ics"
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// New builds the Publisher selected by cfg. It returns nil for "none".
func New(ctx context.Context, cfg config.PublishConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "dir":
		return NewDirPublisher(cfg.Dir), nil
	case "s3":
		return NewS3Publisher(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown publish backend %q", cfg.Backend)
	}
}

// DirPublisher copies feeds into a directory, typically one served by a
// static web server.
type DirPublisher struct {
	dir string
}

func NewDirPublisher(dir string) *DirPublisher {
	return &DirPublisher{dir: dir}
}

func (p *DirPublisher) Name() string { return "dir" }

func (p *DirPublisher) Publish(_ context.Context, user string, body []byte) error {
	path := filepath.Join(p.dir, ObjectKey("", user))
	if err := config.WriteFileAtomic(path, body, 0o644, 0o755); err != nil {
		return fmt.Errorf("publish %s to %s: %w", user, p.dir, err)
	}
	return nil
}
