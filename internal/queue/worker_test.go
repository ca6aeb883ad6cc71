package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-track-bot/internal/domain"
)

// ----- fakes -----

type fakeResolver struct {
	track *domain.ResolvedTrack
	err   error
	panic bool
	calls int
}

func (r *fakeResolver) Resolve(_ context.Context, _ domain.TrackReference) (*domain.ResolvedTrack, error) {
	r.calls++
	if r.panic {
		panic("resolver bug")
	}
	return r.track, r.err
}

type fakeDownloader struct {
	dir     string
	fail    bool
	jobDirs bool // write into a fresh job-* directory like the engine
	queries []string
}

func (d *fakeDownloader) Fetch(_ context.Context, query, filename string) domain.DownloadResult {
	d.queries = append(d.queries, query)
	if d.fail {
		return domain.DownloadResult{Failure: &domain.DownloadFailure{Reason: domain.ErrAllSourcesExhausted}}
	}
	dir, workDir := d.dir, ""
	if d.jobDirs {
		var err error
		if workDir, err = os.MkdirTemp(d.dir, "job-*"); err != nil {
			return domain.DownloadResult{Failure: err}
		}
		dir = workDir
	}
	p := filepath.Join(dir, filename)
	if err := os.WriteFile(p, []byte("audio"), 0o644); err != nil {
		return domain.DownloadResult{Failure: err}
	}
	return domain.DownloadResult{Success: true, LocalPath: p, WorkDir: workDir}
}

type delivery struct {
	path, title, performer string
	existed                bool
}

type fakeSink struct {
	mu         sync.Mutex
	statuses   []string
	deliveries []delivery
	cleared    int
	deliverErr error
}

func (s *fakeSink) UpdateStatus(_ context.Context, _ domain.StatusHandle, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, text)
	return nil
}

func (s *fakeSink) DeliverAudio(_ context.Context, _ domain.StatusHandle, path, title, performer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(path)
	s.deliveries = append(s.deliveries, delivery{path, title, performer, err == nil})
	return s.deliverErr
}

func (s *fakeSink) ClearStatus(context.Context, domain.StatusHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *fakeSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func newWorker(t *testing.T, r *fakeResolver, d *fakeDownloader, s *fakeSink) (*Worker, *[]domain.JobState) {
	t.Helper()
	var states []domain.JobState
	w := &Worker{
		Queue:      New(),
		Resolver:   r,
		Downloader: d,
		Sink:       s,
		Log:        zerolog.Nop(),
		OnTransition: func(_ *domain.Job, st domain.JobState) {
			states = append(states, st)
		},
	}
	return w, &states
}

func linkJob() *domain.Job {
	return &domain.Job{ID: "j1", Reference: domain.TrackReference{Raw: "https://music.yandex.ru/track/1", Kind: domain.Link}}
}

func equalStates(a, b []domain.JobState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ----- tests -----

func TestProcess_FreeText_SkipsResolution_DeliversAndDeletes(t *testing.T) {
	r := &fakeResolver{}
	d := &fakeDownloader{dir: t.TempDir()}
	s := &fakeSink{}
	w, states := newWorker(t, r, d, s)

	job := &domain.Job{ID: "j", Reference: domain.TrackReference{Raw: "chill lofi beat", Kind: domain.FreeText}}
	if got := w.Process(context.Background(), job); got != domain.JobDone {
		t.Fatalf("state = %s", got)
	}
	if r.calls != 0 {
		t.Fatalf("resolver called for free text")
	}
	if len(d.queries) != 1 || d.queries[0] != "chill lofi beat" {
		t.Fatalf("queries = %v", d.queries)
	}
	if len(s.deliveries) != 1 || !s.deliveries[0].existed || s.deliveries[0].performer != domain.UnknownSource {
		t.Fatalf("deliveries = %+v", s.deliveries)
	}
	if _, err := os.Stat(s.deliveries[0].path); !os.IsNotExist(err) {
		t.Fatalf("delivered file must be removed, stat err = %v", err)
	}
	if s.cleared != 1 {
		t.Fatalf("status not cleared")
	}
	want := []domain.JobState{domain.JobDownloading, domain.JobDelivering, domain.JobDone}
	if !equalStates(*states, want) {
		t.Fatalf("states = %v, want %v", *states, want)
	}
}

func TestProcess_RemovesJobDirectory(t *testing.T) {
	for _, deliverErr := range []error{nil, errors.New("413")} {
		d := &fakeDownloader{dir: t.TempDir(), jobDirs: true}
		s := &fakeSink{deliverErr: deliverErr}
		w, _ := newWorker(t, &fakeResolver{}, d, s)

		w.Process(context.Background(), &domain.Job{ID: "j", Reference: domain.TrackReference{Raw: "report", Kind: domain.FreeText}})

		ents, err := os.ReadDir(d.dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(ents) != 0 {
			t.Fatalf("deliverErr=%v: leftovers in download dir: %v", deliverErr, ents)
		}
	}
}

func TestProcess_Link_ResolvesThenDownloads(t *testing.T) {
	r := &fakeResolver{track: &domain.ResolvedTrack{Query: "A - Song", Title: "Song", Artist: "A", Filename: "A - Song.mp3"}}
	d := &fakeDownloader{dir: t.TempDir()}
	s := &fakeSink{}
	w, states := newWorker(t, r, d, s)

	var tagged []string
	w.Tag = func(path, title, artist string) error {
		tagged = append(tagged, title, artist)
		return errors.New("ignored")
	}

	if got := w.Process(context.Background(), linkJob()); got != domain.JobDone {
		t.Fatalf("state = %s", got)
	}
	if d.queries[0] != "A - Song" {
		t.Fatalf("query = %q", d.queries[0])
	}
	if len(tagged) != 2 || tagged[0] != "Song" || tagged[1] != "A" {
		t.Fatalf("tagging = %v", tagged)
	}
	want := []domain.JobState{domain.JobResolving, domain.JobDownloading, domain.JobDelivering, domain.JobDone}
	if !equalStates(*states, want) {
		t.Fatalf("states = %v", *states)
	}
	if s.statuses[0] != domain.MsgResolving || s.statuses[1] != "Downloading: A - Song..." {
		t.Fatalf("statuses = %v", s.statuses)
	}
}

func TestProcess_FailureTexts(t *testing.T) {
	t.Run("resolution not found", func(t *testing.T) {
		r := &fakeResolver{err: &domain.ResolutionFailure{Reason: domain.ErrNotFound}}
		s := &fakeSink{}
		d := &fakeDownloader{dir: t.TempDir()}
		w, _ := newWorker(t, r, d, s)
		if got := w.Process(context.Background(), linkJob()); got != domain.JobFailed {
			t.Fatalf("state = %s", got)
		}
		if s.last() != domain.MsgNotFound || len(d.queries) != 0 {
			t.Fatalf("last status = %q, downloads = %v", s.last(), d.queries)
		}
	})
	t.Run("download exhausted", func(t *testing.T) {
		r := &fakeResolver{track: &domain.ResolvedTrack{Query: "q", Title: "t", Artist: "a", Filename: "q.mp3"}}
		s := &fakeSink{}
		w, _ := newWorker(t, r, &fakeDownloader{fail: true}, s)
		if got := w.Process(context.Background(), linkJob()); got != domain.JobFailed {
			t.Fatalf("state = %s", got)
		}
		if s.last() != domain.MsgDownloadFailed || len(s.deliveries) != 0 {
			t.Fatalf("last status = %q", s.last())
		}
	})
	t.Run("delivery error still deletes file", func(t *testing.T) {
		r := &fakeResolver{track: &domain.ResolvedTrack{Query: "q", Title: "t", Artist: "a", Filename: "q.mp3"}}
		s := &fakeSink{deliverErr: errors.New("413")}
		w, _ := newWorker(t, r, &fakeDownloader{dir: t.TempDir()}, s)
		if got := w.Process(context.Background(), linkJob()); got != domain.JobFailed {
			t.Fatalf("state = %s", got)
		}
		if s.last() != domain.MsgProcessingError {
			t.Fatalf("last status = %q", s.last())
		}
		if _, err := os.Stat(s.deliveries[0].path); !os.IsNotExist(err) {
			t.Fatalf("file left on disk after failed delivery")
		}
	})
	t.Run("panic is isolated", func(t *testing.T) {
		s := &fakeSink{}
		w, _ := newWorker(t, &fakeResolver{panic: true}, &fakeDownloader{}, s)
		if got := w.Process(context.Background(), linkJob()); got != domain.JobFailed {
			t.Fatalf("state = %s", got)
		}
		if s.last() != domain.MsgProcessingError {
			t.Fatalf("last status = %q", s.last())
		}
	})
}

func TestRun_DrainsInOrder_SurvivesBadJob_StopsOnCancel(t *testing.T) {
	d := &fakeDownloader{dir: t.TempDir()}
	s := &fakeSink{}
	w, _ := newWorker(t, &fakeResolver{panic: true}, d, s)

	w.Queue.Enqueue(linkJob()) // panics inside resolver
	w.Queue.Enqueue(&domain.Job{ID: "j2", Reference: domain.TrackReference{Raw: "first", Kind: domain.FreeText}})
	w.Queue.Enqueue(&domain.Job{ID: "j3", Reference: domain.TrackReference{Raw: "second", Kind: domain.FreeText}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.deliveries)
		s.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not process jobs, deliveries=%d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if s.deliveries[0].title != "first" || s.deliveries[1].title != "second" {
		t.Fatalf("out of order: %+v", s.deliveries)
	}
	if w.Queue.InFlight() != 0 {
		t.Fatalf("in-flight not released")
	}
}
