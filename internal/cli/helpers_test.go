package cli

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/config"
	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
)

// stubAccount serves posts from memory and confirms every requested range.
type stubAccount struct {
	id    source.AccountID
	posts []source.Post // newest first

	mu    sync.Mutex
	err   error
	liked []string
}

func (a *stubAccount) ID() source.AccountID      { return a.id }
func (a *stubAccount) Platform() source.Platform { return source.PlatformRSS }

func (a *stubAccount) Timeline(_ context.Context, r daterange.Range, gapID uuid.UUID) iter.Seq2[source.Fragment, error] {
	return func(yield func(source.Fragment, error) bool) {
		a.mu.Lock()
		err := a.err
		a.mu.Unlock()
		if err != nil {
			yield(source.Fragment{}, err)
			return
		}

		var in []source.Post
		for _, p := range a.posts {
			if r.Contains(p.Date) {
				in = append(in, p)
			}
		}
		yield(source.Fragment{ServiceID: a.id, GapID: gapID, Posts: in, Covered: r}, nil)
	}
}

func (a *stubAccount) LikePost(_ context.Context, p source.Post) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.liked = append(a.liked, p.Key())
	return nil
}

func (a *stubAccount) Profiles(_ context.Context, handles []string) ([]source.Profile, error) {
	out := make([]source.Profile, 0, len(handles))
	for _, h := range handles {
		out = append(out, source.Profile{Handle: h, Name: "Stub " + h, Followers: 1200})
	}
	return out, nil
}

func (a *stubAccount) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

type cliEnv struct {
	dir     string
	dbPath  string
	now     time.Time
	account *stubAccount
	cmd     *cobra.Command
}

// setupCLI points the CLI at a temp config with one stubbed rss account and
// a frozen clock. Every flag variable the tests touch is restored afterwards.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	env := &cliEnv{
		dir:    dir,
		dbPath: filepath.Join(dir, "threadline.db"),
		now:    time.Now().UTC().Truncate(time.Second),
	}
	env.account = &stubAccount{
		id: "blogs",
		posts: []source.Post{
			testPost("p1", env.now.Add(-time.Hour), "Go 1.26 is released"),
			testPost("p2", env.now.Add(-2*time.Hour), "Profiling iterators"),
		},
	}

	content := "accounts:\n" +
		"  - id: blogs\n" +
		"    type: rss\n" +
		"    feeds: [\"https://example.com/feed.xml\"]\n" +
		"storage:\n" +
		"  path: \"" + env.dbPath + "\"\n" +
		"log:\n" +
		"  level: error\n"
	if err := os.WriteFile(filepath.Join(dir, config.DefaultConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	oldConfigDir := configDir
	oldNow := nowFunc
	oldAccounts := newAccounts
	oldPullAll, oldTimeout, oldOlder := pullAll, pullTimeout, olderWindow
	oldShowFormat, oldShowLimit, oldNoColor := showFormat, showLimit, noColor
	oldGapsFormat, oldStatsFormat, oldStatsSince := gapsFormat, statsFormat, statsSince
	oldEdge, oldTo, oldAnchor := revealEdge, revealTo, revealAnchor
	oldEvery := runEvery
	t.Cleanup(func() {
		configDir = oldConfigDir
		nowFunc = oldNow
		newAccounts = oldAccounts
		pullAll, pullTimeout, olderWindow = oldPullAll, oldTimeout, oldOlder
		showFormat, showLimit, noColor = oldShowFormat, oldShowLimit, oldNoColor
		gapsFormat, statsFormat, statsSince = oldGapsFormat, oldStatsFormat, oldStatsSince
		revealEdge, revealTo, revealAnchor = oldEdge, oldTo, oldAnchor
		runEvery = oldEvery
	})

	configDir = dir
	nowFunc = func() time.Time { return env.now }
	newAccounts = func(*config.Config, *slog.Logger) ([]source.Account, error) {
		return []source.Account{env.account}, nil
	}
	pullAll = false
	pullTimeout = 10 * time.Second
	olderWindow = 0
	showLimit = 0
	noColor = true
	statsSince = "30d"
	revealEdge, revealTo, revealAnchor = "newest", "", "newest"
	runEvery = ""

	env.cmd = &cobra.Command{}
	env.cmd.SetContext(context.Background())
	return env
}

func testPost(id string, date time.Time, content string) source.Post {
	return source.Post{
		Source:     source.PlatformRSS,
		Identifier: id,
		Channel:    "example.com",
		Date:       date,
		Author:     source.Author{Name: "Example Blog"},
		Content:    content,
		URL:        "https://example.com/" + id,
	}
}

type testGap struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error"`
}

func listGaps(t *testing.T, env *cliEnv) []testGap {
	t.Helper()

	gapsFormat = "json"
	out, err := captureStdout(t, func() error { return gapsAction(env.cmd, nil) })
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	var got struct {
		Gaps []testGap `json:"gaps"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parse gaps json: %v\noutput:\n%s", err, out)
	}
	return got.Gaps
}

type testElement struct {
	Kind string `json:"kind"`
	Post *struct {
		Key   string `json:"key"`
		Likes int    `json:"likes"`
		Liked bool   `json:"liked"`
	} `json:"post"`
}

func showElements(t *testing.T, env *cliEnv) []testElement {
	t.Helper()

	showFormat = "json"
	out, err := captureStdout(t, func() error { return showAction(env.cmd, nil) })
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var got struct {
		Elements []testElement `json:"elements"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parse show json: %v\noutput:\n%s", err, out)
	}
	return got.Elements
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
