package tooling

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one action to dispatch. ID correlates the eventual result with
// the model's tool call.
type Request struct {
	ID   string
	Kind Kind
	Name string
	Args map[string]any
	// Err is a decoding failure; the request is reported, never dispatched.
	Err error
}

// Result is the normalized outcome of a dispatched action.
type Result struct {
	Text string
	// Files maps each file whose full content is embedded in Text to that content.
	Files map[string]string
	// Touched lists files whose older embeddings should be folded.
	Touched  []string
	Terminal bool
	Err      error
}

// Asker blocks for a human reply.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Reporter shows user-facing lines tagged with a role.
type Reporter interface {
	Report(role, message string)
}

// WorkDir is the session's persisted working directory.
type WorkDir interface {
	WorkDir() string
	SetWorkDir(dir string)
}

var (
	schemaOnce sync.Once
	schemas    [kindCount]*gojsonschema.Schema
	schemaErrs [kindCount]error
)

func compiledSchema(k Kind) (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		for _, kind := range Kinds() {
			schemas[kind], schemaErrs[kind] = gojsonschema.NewSchema(gojsonschema.NewGoLoader(kind.Spec().Schema()))
		}
	})
	return schemas[k], schemaErrs[k]
}

// Validate checks args against the kind's schema.
func Validate(k Kind, args map[string]any) error {
	spec := k.Spec()
	if spec.Kind == KindUnknown {
		return &ActionError{Kind: ErrUnknownAction, Target: spec.Name}
	}
	if args == nil {
		args = map[string]any{}
	}
	schema, err := compiledSchema(k)
	if err != nil {
		return malformed(spec.Name, fmt.Errorf("schema: %w", err))
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return malformed(spec.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		sort.Strings(msgs)
		return malformed(spec.Name, errors.New(strings.Join(msgs, "; ")))
	}
	return nil
}

// CoerceArgs converts string values of integer parameters into numbers, so
// that text-protocol arguments validate like structured ones. Values that do
// not parse are left alone and fail validation.
func CoerceArgs(k Kind, args map[string]any) map[string]any {
	spec := k.Spec()
	for name, raw := range args {
		p, ok := spec.Param(name)
		if !ok || p.Type != paramTypeInteger {
			continue
		}
		if s, isStr := raw.(string); isStr {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				args[name] = n
			}
		}
	}
	return args
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	switch v := val.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return defaultVal
}

// resolvePath interprets path relative to dir unless it is absolute.
func resolvePath(dir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return filepath.Clean(dir)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
