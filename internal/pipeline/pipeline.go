package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"ttcal/internal/config"
	"ttcal/internal/ics"
	appLog "ttcal/internal/log"
	"ttcal/internal/model"
	"ttcal/internal/publish"
	"ttcal/internal/synth"
	"ttcal/internal/term"
	"ttcal/internal/timetable"
)

// BuildError ties a failure to the user whose feed could not be built.
type BuildError struct {
	User string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("user %s: %v", e.User, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Result describes one user's build.
type Result struct {
	User      string `json:"user"`
	Path      string `json:"path"`
	Events    int    `json:"events"`
	Bytes     int    `json:"bytes"`
	SHA256    string `json:"sha256"`
	Unchanged bool   `json:"unchanged"`
	Published bool   `json:"published"`
}

// Builder turns per-user timetables into feed artifacts. A Builder is safe
// for concurrent use: it holds only read-only configuration.
type Builder struct {
	Year         *term.AcademicYear
	Timezone     string
	CalendarName string
	InputDir     string
	OutputDir    string
	LoadOptions  timetable.Options
	Publisher    publish.Publisher
	Concurrency  int

	// Force republishes feeds whose bytes did not change.
	Force bool
}

// NewBuilder derives a Builder from cfg. pub may be nil.
func NewBuilder(cfg *config.Config, pub publish.Publisher) (*Builder, error) {
	year, err := cfg.AcademicYear()
	if err != nil {
		return nil, err
	}
	return &Builder{
		Year:         year,
		Timezone:     cfg.Timezone,
		CalendarName: cfg.CalendarName,
		InputDir:     cfg.InputDir,
		OutputDir:    cfg.OutputDir,
		LoadOptions:  timetable.Options{SkipMarkers: cfg.SkipMarkers},
		Publisher:    pub,
		Concurrency:  cfg.Concurrency,
	}, nil
}

// ValidUser rejects names that could escape the input/output directories.
func ValidUser(user string) error {
	if user == "" || strings.HasPrefix(user, ".") || strings.ContainsAny(user, `/\`) {
		return fmt.Errorf("invalid user name %q", user)
	}
	return nil
}

// Users lists users with a timetable in InputDir, sorted.
func (b *Builder) Users() ([]string, error) {
	entries, err := os.ReadDir(b.InputDir)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		user := strings.TrimSuffix(e.Name(), ".json")
		if ValidUser(user) != nil {
			continue
		}
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}

// TimetablePath is <input_dir>/<user>.json.
func (b *Builder) TimetablePath(user string) string {
	return filepath.Join(b.InputDir, user+".json")
}

// FeedPath is <output_dir>/<user>.ics.
func (b *Builder) FeedPath(user string) string {
	return filepath.Join(b.OutputDir, user+".ics")
}

// Events loads user's timetable and synthesizes every term.
func (b *Builder) Events(user string) ([]model.CalendarEvent, error) {
	if err := ValidUser(user); err != nil {
		return nil, err
	}
	tt, err := timetable.LoadFile(b.TimetablePath(user), b.LoadOptions)
	if err != nil {
		return nil, &BuildError{User: user, Err: err}
	}
	events, err := synth.SynthesizeYear(b.Year, tt)
	if err != nil {
		return nil, &BuildError{User: user, Err: err}
	}
	return events, nil
}

// Render synthesizes and serializes a feed for user without touching disk.
func (b *Builder) Render(user string, tt *model.Timetable) ([]byte, []model.CalendarEvent, error) {
	events, err := synth.SynthesizeYear(b.Year, tt)
	if err != nil {
		return nil, nil, &BuildError{User: user, Err: err}
	}
	body, err := ics.Serialize(events, b.feedOptions(user))
	if err != nil {
		return nil, nil, &BuildError{User: user, Err: err}
	}
	return body, events, nil
}

func (b *Builder) feedOptions(user string) ics.FeedOptions {
	opts := ics.FeedOptions{
		Name:     strings.ReplaceAll(b.CalendarName, "{user}", user),
		Timezone: b.Timezone,
	}
	if terms := b.Year.Terms(); len(terms) > 0 {
		opts.Stamp = terms[0].Start().Time()
	}
	return opts
}

// Build produces and writes user's feed, then publishes it. Either the
// whole feed is written or nothing is.
func (b *Builder) Build(ctx context.Context, user string) (Result, error) {
	res := Result{User: user}
	if err := ValidUser(user); err != nil {
		return res, err
	}

	tt, err := timetable.LoadFile(b.TimetablePath(user), b.LoadOptions)
	if err != nil {
		return res, &BuildError{User: user, Err: err}
	}
	appLog.Debug("timetable loaded", "user", user, "periods", tt.PeriodCount())

	body, events, err := b.Render(user, tt)
	if err != nil {
		return res, err
	}

	sum := sha256.Sum256(body)
	res.Path = b.FeedPath(user)
	res.Events = len(events)
	res.Bytes = len(body)
	res.SHA256 = hex.EncodeToString(sum[:])

	if prev, err := os.ReadFile(res.Path); err == nil && bytes.Equal(prev, body) {
		res.Unchanged = true
	} else {
		if err := config.WriteFileAtomic(res.Path, body, 0o644, 0o755); err != nil {
			return res, &BuildError{User: user, Err: fmt.Errorf("write feed: %w", err)}
		}
	}

	appLog.Info("feed built",
		"user", user,
		"events", res.Events,
		"bytes", res.Bytes,
		"path", res.Path,
		"unchanged", res.Unchanged,
	)

	if b.Publisher != nil && (!res.Unchanged || b.Force) {
		if err := b.Publisher.Publish(ctx, user, body); err != nil {
			return res, &BuildError{User: user, Err: err}
		}
		res.Published = true
		appLog.Info("feed published", "user", user, "backend", b.Publisher.Name())
	}

	return res, nil
}

// BuildAll builds every user independently, at most Concurrency at a time.
// A failing user does not stop the others; all failures are joined into
// the returned error. Results are in the order of users.
func (b *Builder) BuildAll(ctx context.Context, users []string) ([]Result, error) {
	results := make([]Result, len(users))
	errs := make([]error, len(users))

	var g errgroup.Group
	limit := b.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, user := range users {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = &BuildError{User: user, Err: err}
				return nil
			}
			res, err := b.Build(ctx, user)
			results[i] = res
			if err != nil {
				appLog.Error("feed build failed", err, "user", user)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}
