package tooling

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"momoka/internal/browser"
)

type dirSession struct{ dir string }

func (d *dirSession) WorkDir() string       { return d.dir }
func (d *dirSession) SetWorkDir(dir string) { d.dir = dir }

type fakeRunner struct {
	out     ProcessOutput
	err     error
	command string
	dir     string
}

func (f *fakeRunner) Run(_ context.Context, command, dir string, _ time.Duration) (ProcessOutput, error) {
	f.command = command
	f.dir = dir
	return f.out, f.err
}

type stubAsker struct{ reply string }

func (s stubAsker) Ask(context.Context, string) (string, error) { return s.reply, nil }

type recordingReporter struct{ lines []string }

func (r *recordingReporter) Report(role, message string) {
	r.lines = append(r.lines, role+": "+message)
}

func newTestExecutor(t *testing.T, opts Options) (*Executor, *dirSession) {
	t.Helper()
	sess := &dirSession{dir: t.TempDir()}
	opts.Session = sess
	return NewExecutor(opts), sess
}

func dispatch(e *Executor, kind Kind, args map[string]any) Result {
	return e.Execute(context.Background(), Request{ID: "t", Kind: kind, Name: kind.String(), Args: args})
}

func TestCatalogIsExhaustive(t *testing.T) {
	e, _ := newTestExecutor(t, Options{Runner: &fakeRunner{}})
	seen := map[string]bool{}
	for _, k := range Kinds() {
		spec := k.Spec()
		if spec.Name == "" || spec.Name == "unknown" {
			t.Fatalf("kind %d has no catalog entry", k)
		}
		if seen[spec.Name] {
			t.Fatalf("duplicate action name %q", spec.Name)
		}
		seen[spec.Name] = true
		if got, ok := LookupKind(spec.Name); !ok || got != k {
			t.Fatalf("LookupKind(%q) = %v, %v", spec.Name, got, ok)
		}
		if _, err := compiledSchema(k); err != nil {
			t.Fatalf("schema for %s: %v", spec.Name, err)
		}
		res := dispatch(e, k, map[string]any{})
		if KindOf(res.Err) == ErrUnknownAction {
			t.Fatalf("%s fell through to the unknown branch", spec.Name)
		}
	}
}

func TestDefinitionsExcludeTextOnlyActions(t *testing.T) {
	for _, def := range Definitions() {
		k, ok := LookupKind(def.Function.Name)
		if !ok {
			t.Fatalf("advertised unknown action %q", def.Function.Name)
		}
		if k.Spec().TextOnly {
			t.Fatalf("text-only action %q advertised", def.Function.Name)
		}
	}
	if _, ok := LookupKind("begin_edit"); !ok {
		t.Fatal("begin_edit must still resolve by name")
	}
}

func TestUnknownActionIsReportedAsText(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	res := e.Execute(context.Background(), Request{Name: "FLY"})
	if KindOf(res.Err) != ErrUnknownAction {
		t.Fatalf("expected unknown action, got %v", res.Err)
	}
	if res.Text != "unknown command: FLY" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Terminal {
		t.Fatal("unknown action must not terminate")
	}
}

func TestValidateRejectsMalformedArguments(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	cases := []struct {
		name string
		kind Kind
		args map[string]any
	}{
		{"missing path", KindReadFile, map[string]any{}},
		{"content wrong type", KindWriteFile, map[string]any{"path": "a", "content": 5}},
		{"limit not a number", KindFindText, map[string]any{"text": "x", "max_results": "many"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := dispatch(e, tc.kind, tc.args)
			if KindOf(res.Err) != ErrMalformedArguments {
				t.Fatalf("expected malformed arguments, got %v", res.Err)
			}
			if !strings.Contains(res.Text, tc.kind.String()) {
				t.Fatalf("message should name the action: %q", res.Text)
			}
		})
	}
}

func TestCoerceArgsConvertsIntegerStrings(t *testing.T) {
	args := CoerceArgs(KindReadPage, map[string]any{"max_chars": " 120 "})
	if args["max_chars"] != 120 {
		t.Fatalf("expected 120, got %#v", args["max_chars"])
	}
	if err := Validate(KindReadPage, args); err != nil {
		t.Fatalf("coerced args should validate: %v", err)
	}
}

func TestWriteThenReadFile(t *testing.T) {
	e, sess := newTestExecutor(t, Options{})
	res := dispatch(e, KindWriteFile, map[string]any{"path": "sub/dir/a.txt", "content": "hello"})
	if res.Err != nil {
		t.Fatalf("write: %v", res.Err)
	}
	abs := filepath.Join(sess.dir, "sub", "dir", "a.txt")
	if res.Files != nil || res.Touched != nil {
		t.Fatalf("write should not embed or touch files: %+v", res)
	}

	res = dispatch(e, KindReadFile, map[string]any{"path": "sub/dir/a.txt"})
	if res.Err != nil {
		t.Fatalf("read: %v", res.Err)
	}
	if res.Files[abs] != "hello" {
		t.Fatalf("files metadata = %+v", res.Files)
	}
	if len(res.Touched) != 1 || res.Touched[0] != abs {
		t.Fatalf("touched = %v", res.Touched)
	}
	if !strings.HasSuffix(res.Text, abs+":\nhello") {
		t.Fatalf("unexpected read text %q", res.Text)
	}
}

func TestReadMissingFile(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	res := dispatch(e, KindReadFile, map[string]any{"path": "nope.txt"})
	if KindOf(res.Err) != ErrNotFound {
		t.Fatalf("expected not found, got %v", res.Err)
	}
	if !strings.Contains(res.Text, "file not found") {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Files != nil {
		t.Fatal("failed read must not carry file metadata")
	}
}

func TestPatchReplacesFirstOccurrenceOnly(t *testing.T) {
	e, sess := newTestExecutor(t, Options{})
	path := filepath.Join(sess.dir, "p.txt")
	if err := os.WriteFile(path, []byte("a a a"), 0o600); err != nil {
		t.Fatal(err)
	}
	res := dispatch(e, KindPatchFile, map[string]any{"path": "p.txt", "old_text": "a", "new_text": "b"})
	if res.Err != nil {
		t.Fatalf("patch: %v", res.Err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "b a a" {
		t.Fatalf("got %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("permissions changed to %v", info.Mode().Perm())
	}

	res = dispatch(e, KindPatchFile, map[string]any{"path": "p.txt", "old_text": "zzz", "new_text": "b"})
	if KindOf(res.Err) != ErrTextNotFound {
		t.Fatalf("expected text not found, got %v", res.Err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "b a a" {
		t.Fatalf("file modified on failure: %q", data)
	}
}

func TestReplaceInFileReportsTouchedOnFailure(t *testing.T) {
	e, sess := newTestExecutor(t, Options{})
	path := filepath.Join(sess.dir, "r.txt")
	if err := os.WriteFile(path, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := e.ReplaceInFile("r.txt", "missing", "x")
	if KindOf(res.Err) != ErrTextNotFound {
		t.Fatalf("expected text not found, got %v", res.Err)
	}
	if len(res.Touched) != 1 || res.Touched[0] != path {
		t.Fatalf("touched = %v", res.Touched)
	}
	if res.Files != nil {
		t.Fatal("replace must not embed file content")
	}

	res = e.ReplaceInFile("r.txt", "keep", "kept")
	if res.Err != nil {
		t.Fatalf("replace: %v", res.Err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "kept" {
		t.Fatalf("got %q", data)
	}
}

func TestEditWholeOverwrites(t *testing.T) {
	e, sess := newTestExecutor(t, Options{})
	res := e.EditWhole("new.txt", "line1\nline2\n")
	if res.Err != nil {
		t.Fatalf("edit: %v", res.Err)
	}
	data, err := os.ReadFile(filepath.Join(sess.dir, "new.txt"))
	if err != nil || string(data) != "line1\nline2\n" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(sess.dir, "new.txt.momoka-tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestChangeDirectory(t *testing.T) {
	e, sess := newTestExecutor(t, Options{})
	start := sess.dir
	if err := os.Mkdir(filepath.Join(start, "child"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := dispatch(e, KindChangeDirectory, map[string]any{"path": "missing"})
	if KindOf(res.Err) != ErrNotFound || !strings.Contains(res.Text, "directory does not exist") {
		t.Fatalf("unexpected result %+v", res)
	}
	if sess.dir != start {
		t.Fatal("working directory changed on failure")
	}

	res = dispatch(e, KindChangeDirectory, map[string]any{"path": "child"})
	if res.Err != nil {
		t.Fatalf("cd: %v", res.Err)
	}
	if sess.dir != filepath.Join(start, "child") {
		t.Fatalf("workdir = %s", sess.dir)
	}

	runner := &fakeRunner{out: ProcessOutput{Stdout: "ok"}}
	e.runner = runner
	dispatch(e, KindRunCommand, map[string]any{"command": "pwd"})
	if runner.dir != sess.dir {
		t.Fatalf("command ran in %s, want %s", runner.dir, sess.dir)
	}
}

func TestRunCommandFormatting(t *testing.T) {
	cases := []struct {
		name string
		out  ProcessOutput
		want string
	}{
		{"empty", ProcessOutput{}, "(empty output)"},
		{"stdout", ProcessOutput{Stdout: "hi\n"}, "hi"},
		{"stderr", ProcessOutput{Stdout: "a\n", Stderr: "warn\n"}, "a\n[STDERR]: warn"},
		{"exit code", ProcessOutput{Stderr: "boom", ExitCode: 2}, "\n[STDERR]: boom\n[EXIT CODE]: 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := &recordingReporter{}
			e, _ := newTestExecutor(t, Options{Runner: &fakeRunner{out: tc.out}, Reporter: rep})
			res := dispatch(e, KindRunCommand, map[string]any{"command": "true"})
			if res.Err != nil {
				t.Fatalf("run: %v", res.Err)
			}
			if res.Text != tc.want {
				t.Fatalf("got %q want %q", res.Text, tc.want)
			}
			if len(rep.lines) == 0 || rep.lines[0] != "CMD: $ true" {
				t.Fatalf("command not echoed: %v", rep.lines)
			}
		})
	}
}

func TestRunCommandTimeout(t *testing.T) {
	e, _ := newTestExecutor(t, Options{
		Runner:         &fakeRunner{out: ProcessOutput{TimedOut: true}},
		CommandTimeout: 3 * time.Second,
	})
	res := dispatch(e, KindRunCommand, map[string]any{"command": "sleep 100"})
	if KindOf(res.Err) != ErrTimeout {
		t.Fatalf("expected timeout, got %v", res.Err)
	}
	if !strings.Contains(res.Text, "3s") || !strings.Contains(res.Text, "sleep 100") {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestAskUser(t *testing.T) {
	e, _ := newTestExecutor(t, Options{Asker: stubAsker{reply: "  "}})
	res := dispatch(e, KindAskUser, map[string]any{"question": "ok?"})
	if res.Text != noReplyMarker {
		t.Fatalf("got %q", res.Text)
	}
	e.asker = stubAsker{reply: "yes"}
	res = dispatch(e, KindAskUser, map[string]any{"question": "ok?"})
	if res.Text != "User replied: yes" {
		t.Fatalf("got %q", res.Text)
	}
	e.asker = nil
	res = dispatch(e, KindAskUser, map[string]any{"question": "ok?"})
	if KindOf(res.Err) != ErrCollaboratorFailure {
		t.Fatalf("expected collaborator failure, got %v", res.Err)
	}
}

func TestEmitAndFinish(t *testing.T) {
	rep := &recordingReporter{}
	e, _ := newTestExecutor(t, Options{Reporter: rep})
	res := dispatch(e, KindEmitOutput, map[string]any{"message": "done soon"})
	if res.Err != nil || res.Terminal {
		t.Fatalf("unexpected emit result %+v", res)
	}
	if rep.lines[0] != "BOT: done soon" {
		t.Fatalf("reported %v", rep.lines)
	}
	res = dispatch(e, KindFinish, nil)
	if !res.Terminal || res.Err != nil {
		t.Fatalf("finish should be terminal: %+v", res)
	}
}

func TestModeActionsAreRejected(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	res := dispatch(e, KindBeginEdit, map[string]any{"path": "a"})
	if KindOf(res.Err) != ErrMalformedArguments {
		t.Fatalf("expected rejection, got %v", res.Err)
	}
}

func TestLargeResultIsTruncated(t *testing.T) {
	e, sess := newTestExecutor(t, Options{})
	big := strings.Repeat("x", maxResultSize+10)
	if err := os.WriteFile(filepath.Join(sess.dir, "big"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	res := dispatch(e, KindReadFile, map[string]any{"path": "big"})
	if len(res.Text) > maxResultSize+200 || !strings.Contains(res.Text, "[TRUNCATED") {
		t.Fatalf("result not truncated, len=%d", len(res.Text))
	}
	recorded := res.Files[filepath.Join(sess.dir, "big")]
	if len(recorded) != maxResultSize || !strings.Contains(res.Text, recorded) {
		t.Fatalf("recorded copy must be the embedded text, len=%d", len(recorded))
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 5) // 2 bytes each
	got, cut := clip(s, 5)
	if !cut || got != "éé" {
		t.Fatalf("clip = %q, %t", got, cut)
	}
	if got, cut := clip("short", 10); cut || got != "short" {
		t.Fatalf("clip short = %q, %t", got, cut)
	}
}

func TestBrowserFailuresBecomeText(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	res := dispatch(e, KindReadPage, nil)
	if KindOf(res.Err) != ErrCollaboratorFailure {
		t.Fatalf("expected collaborator failure without browser, got %v", res.Err)
	}

	b, err := browser.NewHTTP(browser.Options{})
	if err != nil {
		t.Fatal(err)
	}
	e.browser = b
	res = dispatch(e, KindReadPage, map[string]any{"max_chars": 10})
	if !errors.Is(res.Err, browser.ErrNoPage) {
		t.Fatalf("expected ErrNoPage, got %v", res.Err)
	}
	if !strings.Contains(res.Text, "no page is open") {
		t.Fatalf("unexpected text %q", res.Text)
	}
}
