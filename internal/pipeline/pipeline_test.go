package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ttcal/internal/ics"
	"ttcal/internal/model"
	"ttcal/internal/synth"
	"ttcal/internal/term"
)

const goodTimetable = `{
  "Week A": {"Monday": [
    {"period": "Period 1", "start": "09:00", "end": "09:50", "lesson": "Maths", "teacher": "Mr Smith", "room": "M12"},
    {"period": "Period 2", "start": "09:50", "end": "10:40", "lesson": "Maths", "teacher": "Mr Smith", "room": "M12"}
  ]},
  "Week B": {"Monday": [
    {"period": "Period 1", "start": "09:00", "end": "09:50", "lesson": "English", "teacher": "Ms Brown", "room": "E4"}
  ]}
}`

const overlappingTimetable = `{
  "Week A": {"Monday": [
    {"period": "Period 1", "start": "09:00", "end": "10:00", "lesson": "Maths"},
    {"period": "Period 2", "start": "09:30", "end": "10:30", "lesson": "Art"}
  ]}
}`

type recordingPublisher struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, user string, _ []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[user]++
	return nil
}

func (p *recordingPublisher) count(user string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[user]
}

func newTestBuilder(t *testing.T, timetables map[string]string) *Builder {
	t.Helper()

	w, err := term.NewTermWindow("autumn",
		model.MustDate("2024-09-02"), model.MustDate("2024-09-13"),
		model.MustDate("2024-09-02"), nil)
	if err != nil {
		t.Fatal(err)
	}
	year, err := term.NewAcademicYear(w)
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	in := filepath.Join(root, "json")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatal(err)
	}
	for user, body := range timetables {
		if err := os.WriteFile(filepath.Join(in, user+".json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	return &Builder{
		Year:         year,
		Timezone:     "Europe/London",
		CalendarName: "{user} timetable",
		InputDir:     in,
		OutputDir:    filepath.Join(root, "ics"),
		Concurrency:  2,
	}
}

func TestValidUser(t *testing.T) {
	for _, u := range []string{"k.thang19", "alice", "a_b-c"} {
		if err := ValidUser(u); err != nil {
			t.Errorf("ValidUser(%q) = %v", u, err)
		}
	}
	for _, u := range []string{"", ".hidden", "../etc", `a\b`, "a/b"} {
		if err := ValidUser(u); err == nil {
			t.Errorf("ValidUser(%q) accepted", u)
		}
	}
}

func TestUsers(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"zed": goodTimetable, "amy": goodTimetable})
	if err := os.WriteFile(filepath.Join(b.InputDir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	users, err := b.Users()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(users, ",") != "amy,zed" {
		t.Errorf("Users() = %v", users)
	}
}

func TestBuild(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"k.thang19": goodTimetable})
	pub := &recordingPublisher{}
	b.Publisher = pub
	ctx := context.Background()

	res, err := b.Build(ctx, "k.thang19")
	if err != nil {
		t.Fatal(err)
	}
	// Week A Monday 2024-09-02 (one merged double) and Week B Monday 2024-09-09.
	if res.Events != 2 || res.Unchanged || !res.Published {
		t.Errorf("first build = %+v", res)
	}

	body, err := os.ReadFile(b.FeedPath("k.thang19"))
	if err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(b.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := st.Mode().Perm(); perm&0o005 != 0o005 {
		t.Errorf("output dir perms = %o, want world readable and searchable", perm)
	}
	if len(body) != res.Bytes {
		t.Errorf("file has %d bytes, result says %d", len(body), res.Bytes)
	}
	feed, err := ics.ParseFeed(body)
	if err != nil {
		t.Fatal(err)
	}
	events := feed.Events
	if len(events) != 2 || events[0].Summary != "Maths (Mr Smith)" || events[1].Summary != "English (Ms Brown)" {
		t.Errorf("feed events = %+v", events)
	}
	if feed.Name != "k.thang19 timetable" {
		t.Errorf("calendar name = %q", feed.Name)
	}

	again, err := b.Build(ctx, "k.thang19")
	if err != nil {
		t.Fatal(err)
	}
	if !again.Unchanged || again.Published || again.SHA256 != res.SHA256 {
		t.Errorf("second build = %+v", again)
	}
	if n := pub.count("k.thang19"); n != 1 {
		t.Errorf("published %d times, want 1", n)
	}

	b.Force = true
	forced, err := b.Build(ctx, "k.thang19")
	if err != nil {
		t.Fatal(err)
	}
	if !forced.Published || pub.count("k.thang19") != 2 {
		t.Errorf("forced build = %+v, calls = %d", forced, pub.count("k.thang19"))
	}
}

func TestBuildDataIntegrityLeavesNoFeed(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"bad": overlappingTimetable})

	_, err := b.Build(context.Background(), "bad")
	var die *synth.DataIntegrityError
	if !errors.As(err, &die) {
		t.Fatalf("error = %v, want *synth.DataIntegrityError", err)
	}
	var be *BuildError
	if !errors.As(err, &be) || be.User != "bad" {
		t.Errorf("error not attributed to user: %v", err)
	}
	if _, err := os.Stat(b.FeedPath("bad")); !os.IsNotExist(err) {
		t.Errorf("feed written for failed build: %v", err)
	}
}

func TestBuildAll(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"amy": goodTimetable,
		"bad": overlappingTimetable,
		"zed": goodTimetable,
	})
	users, err := b.Users()
	if err != nil {
		t.Fatal(err)
	}

	results, err := b.BuildAll(context.Background(), users)
	if err == nil {
		t.Fatal("expected joined error for bad user")
	}
	if !strings.Contains(err.Error(), "user bad") {
		t.Errorf("error = %v", err)
	}
	if len(results) != 3 || results[0].User != "amy" || results[2].User != "zed" {
		t.Fatalf("results = %+v", results)
	}
	for _, i := range []int{0, 2} {
		if results[i].Events != 2 {
			t.Errorf("%s built %d events", results[i].User, results[i].Events)
		}
		if _, err := os.Stat(results[i].Path); err != nil {
			t.Errorf("%s feed missing: %v", results[i].User, err)
		}
	}
}

func TestBuildAllCancelled(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"amy": goodTimetable})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.BuildAll(ctx, []string{"amy"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEventsMissingUser(t *testing.T) {
	b := newTestBuilder(t, nil)
	if _, err := b.Events("nobody"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}
