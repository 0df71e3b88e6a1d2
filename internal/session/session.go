// Package session holds the per-run mutable context: the persisted working
// directory and the edit/replace mode that decides how raw model output is
// interpreted.
package session

import (
	"fmt"
	"path/filepath"
	"sync"
)

// ModeKind names the active interpretation mode.
type ModeKind int

const (
	ModeNormal ModeKind = iota
	ModeEditing
	ModeReplacing
)

func (k ModeKind) String() string {
	switch k {
	case ModeEditing:
		return "editing"
	case ModeReplacing:
		return "replacing"
	default:
		return "normal"
	}
}

// ReplaceStep is the position inside the two-step replace flow.
type ReplaceStep int

const (
	AwaitingOld ReplaceStep = iota + 1
	AwaitingNew
)

// Mode is a snapshot of the state machine. File is empty in ModeNormal.
type Mode struct {
	Kind       ModeKind
	File       string
	Step       ReplaceStep
	PendingOld string
}

// StepKind tells the caller what a fed turn resolved to.
type StepKind int

const (
	// StepNone means the session was in normal mode; the caller parses actions.
	StepNone StepKind = iota
	// StepWrite carries full content for File.
	StepWrite
	// StepCapturedOld acknowledges the old text; the next turn is the new text.
	StepCapturedOld
	// StepReplace carries Old and New for a first-occurrence substitution in File.
	StepReplace
)

// Step is the outcome of Feed.
type Step struct {
	Kind    StepKind
	File    string
	Content string
	Old     string
	New     string
}

// Session is owned by the agent loop. The mutex only guards readers such as
// the status line renderer.
type Session struct {
	mu      sync.Mutex
	workDir string
	mode    Mode
}

// New starts a session in normal mode at workDir.
func New(workDir string) *Session {
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	return &Session{workDir: workDir}
}

func (s *Session) WorkDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

func (s *Session) SetWorkDir(dir string) {
	s.mu.Lock()
	s.workDir = dir
	s.mu.Unlock()
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Active reports whether raw output is currently captured by a mode.
func (s *Session) Active() bool {
	return s.Mode().Kind != ModeNormal
}

// BeginEdit enters editing mode. Any active mode is dropped first.
func (s *Session) BeginEdit(file string) {
	s.mu.Lock()
	s.mode = Mode{Kind: ModeEditing, File: file}
	s.mu.Unlock()
}

// BeginReplace enters replacing mode at AwaitingOld. Any active mode is dropped first.
func (s *Session) BeginReplace(file string) {
	s.mu.Lock()
	s.mode = Mode{Kind: ModeReplacing, File: file, Step: AwaitingOld}
	s.mu.Unlock()
}

// Reset forces the session back to normal mode.
func (s *Session) Reset() {
	s.mu.Lock()
	s.mode = Mode{}
	s.mu.Unlock()
}

// Feed hands one raw model output to the state machine. The text is used
// verbatim. In normal mode it returns StepNone and leaves the state alone.
func (s *Session) Feed(raw string) Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode.Kind {
	case ModeEditing:
		step := Step{Kind: StepWrite, File: s.mode.File, Content: raw}
		s.mode = Mode{}
		return step
	case ModeReplacing:
		if s.mode.Step == AwaitingOld {
			s.mode.PendingOld = raw
			s.mode.Step = AwaitingNew
			return Step{Kind: StepCapturedOld, File: s.mode.File}
		}
		step := Step{Kind: StepReplace, File: s.mode.File, Old: s.mode.PendingOld, New: raw}
		s.mode = Mode{}
		return step
	default:
		return Step{Kind: StepNone}
	}
}

// Status renders the mode for the per-turn system prompt.
func (s *Session) Status() string {
	m := s.Mode()
	switch m.Kind {
	case ModeEditing:
		return fmt.Sprintf("edit mode: yes (file: %s)\nreplace mode: no", m.File)
	case ModeReplacing:
		step := "waiting for the old text"
		if m.Step == AwaitingNew {
			step = "waiting for the new text"
		}
		return fmt.Sprintf("edit mode: no\nreplace mode: yes (%s, file: %s)", step, m.File)
	default:
		return "edit mode: no\nreplace mode: no"
	}
}
