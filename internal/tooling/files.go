package tooling

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (e *Executor) readFile(args map[string]any) Result {
	path, _ := stringArg(args, "path")
	abs := resolvePath(e.session.WorkDir(), path)
	e.reporter.Report(RoleLog, "Reading file: "+abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{Err: notFound(KindReadFile, abs, err)}
	}
	content, cut := clip(string(data), maxResultSize)
	text := fmt.Sprintf("Opened file: %s\n%s:\n%s", abs, abs, content)
	if cut {
		text += fmt.Sprintf("\n\n[TRUNCATED: file is %d chars]", len(data))
	}
	return Result{
		Text:    text,
		Files:   map[string]string{abs: content},
		Touched: []string{abs},
	}
}

func (e *Executor) writeFile(args map[string]any) Result {
	path, _ := stringArg(args, "path")
	content, _ := stringArg(args, "content")
	abs := resolvePath(e.session.WorkDir(), path)
	if err := WriteWhole(abs, content); err != nil {
		return Result{Err: collaboratorFailure(KindWriteFile, err)}
	}
	e.reporter.Report(RoleLog, "Wrote file: "+abs)
	return Result{Text: fmt.Sprintf("File written: %s (%d bytes)", abs, len(content))}
}

func (e *Executor) patchFile(args map[string]any) Result {
	path, _ := stringArg(args, "path")
	oldText, _ := stringArg(args, "old_text")
	newText, _ := stringArg(args, "new_text")
	abs := resolvePath(e.session.WorkDir(), path)
	if err := PatchFirst(abs, oldText, newText); err != nil {
		return Result{Err: err}
	}
	e.reporter.Report(RoleLog, "Patched file: "+abs)
	return Result{Text: "File patched: " + abs}
}

// ReplaceInFile is the second step of replace mode. The file is reported as
// touched whether or not the substitution succeeds.
func (e *Executor) ReplaceInFile(path, oldText, newText string) Result {
	abs := resolvePath(e.session.WorkDir(), path)
	res := Result{Touched: []string{abs}}
	if err := PatchFirst(abs, oldText, newText); err != nil {
		res.Err = err
		res.Text = err.Error()
		return res
	}
	e.reporter.Report(RoleLog, "Replaced text in file: "+abs)
	res.Text = "File replaced: " + abs
	return res
}

// EditWhole is the completion of edit mode: content overwrites path.
func (e *Executor) EditWhole(path, content string) Result {
	abs := resolvePath(e.session.WorkDir(), path)
	if err := WriteWhole(abs, content); err != nil {
		err = collaboratorFailure(KindWriteFile, err)
		return Result{Text: err.Error(), Err: err}
	}
	e.reporter.Report(RoleLog, "Wrote file: "+abs)
	return Result{Text: fmt.Sprintf("File written: %s (%d bytes)", abs, len(content))}
}

// WriteWhole replaces the file with content, creating parent directories.
// The data goes to a sibling temp file first so readers never see a partial write.
func WriteWhole(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		mode = info.Mode().Perm()
	}
	tmp := path + ".momoka-tmp"
	if err := os.WriteFile(tmp, []byte(content), mode); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// PatchFirst substitutes the first occurrence of oldText. The file is left
// untouched when it cannot be read or oldText is absent.
func PatchFirst(path, oldText, newText string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return notFound(KindPatchFile, path, err)
	}
	content := string(data)
	if oldText == "" || !strings.Contains(content, oldText) {
		return textNotFound(KindPatchFile, path)
	}
	if err := WriteWhole(path, strings.Replace(content, oldText, newText, 1)); err != nil {
		return collaboratorFailure(KindPatchFile, err)
	}
	return nil
}

// Resolve maps path onto the session working directory.
func (e *Executor) Resolve(path string) string {
	return resolvePath(e.session.WorkDir(), path)
}
