// Package protocol turns model output into ordered action requests. Two
// encodings are supported: structured tool calls and the bracket language
// embedded in free text, e.g. "{SYSTEM ls}{READ main.go}{FINISH}".
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"momoka/internal/state"
	"momoka/internal/tooling"
)

// Name identifies a protocol in configuration.
type Name string

const (
	Tools Name = "tools"
	Text  Name = "text"
)

// ParseName accepts a configured protocol name.
func ParseName(s string) (Name, error) {
	switch Name(strings.ToLower(strings.TrimSpace(s))) {
	case Tools, "":
		return Tools, nil
	case Text:
		return Text, nil
	default:
		return "", fmt.Errorf("unknown protocol %q (want %q or %q)", s, Tools, Text)
	}
}

type binding struct {
	kind   tooling.Kind
	params []string
}

// Multi-field arguments are split on '|' into params, the last field keeping
// any remaining separators. Single-field commands are never split.
var bindings = map[string]binding{
	"SYSTEM":          {tooling.KindRunCommand, []string{"command"}},
	"EDIT":            {tooling.KindBeginEdit, []string{"path"}},
	"REPLACE":         {tooling.KindBeginReplace, []string{"path"}},
	"READ":            {tooling.KindReadFile, []string{"path"}},
	"CD":              {tooling.KindChangeDirectory, []string{"path"}},
	"ASK":             {tooling.KindAskUser, []string{"question"}},
	"REPORT":          {tooling.KindReport, []string{"message"}},
	"OUTPUT":          {tooling.KindEmitOutput, []string{"message"}},
	"FINISH":          {tooling.KindFinish, nil},
	"BROWSE_OPEN":     {tooling.KindOpen, []string{"url"}},
	"BROWSE_READ":     {tooling.KindReadPage, []string{"max_chars"}},
	"BROWSE_FIND":     {tooling.KindFindText, []string{"text", "max_results"}},
	"BROWSE_CLICK":    {tooling.KindClick, []string{"selector"}},
	"BROWSE_TYPE":     {tooling.KindTypeText, []string{"selector", "text"}},
	"BROWSE_SELECT":   {tooling.KindSelectOption, []string{"selector", "value"}},
	"BROWSE_HOVER":    {tooling.KindHover, []string{"selector"}},
	"BROWSE_BACK":     {tooling.KindBack, nil},
	"BROWSE_FORWARD":  {tooling.KindForward, nil},
	"BROWSE_DOWNLOAD": {tooling.KindDownload, []string{"url", "dir"}},
	"BROWSE_UPLOAD":   {tooling.KindUpload, []string{"selector", "path"}},
	"BROWSE_PDF":      {tooling.KindExportPDF, []string{"dir"}},
	"BROWSE_SHOT":     {tooling.KindScreenshot, []string{"dir"}},
	"BROWSE_EVAL":     {tooling.KindEvaluateScript, []string{"script"}},
	"BROWSE_CLOSE":    {tooling.KindCloseBrowser, nil},
}

// Segment is one top-level {...} span of model text.
type Segment struct {
	Name string
	Arg  string
}

// Scan returns the top-level brace segments in order. Nested braces belong
// to their enclosing segment; an unterminated segment is dropped.
func Scan(text string) []Segment {
	var out []Segment
	depth, start := 0, -1
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				if seg, ok := splitSegment(text[start+1 : i]); ok {
					out = append(out, seg)
				}
			}
		}
	}
	return out
}

func splitSegment(body string) (Segment, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Segment{}, false
	}
	cut := strings.IndexFunc(body, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if cut < 0 {
		return Segment{Name: body}, true
	}
	return Segment{Name: body[:cut], Arg: strings.TrimSpace(body[cut:])}, true
}

// ParseText converts bracket segments into requests. Unknown names become
// KindUnknown requests so the executor can answer them.
func ParseText(text string) []tooling.Request {
	segments := Scan(text)
	reqs := make([]tooling.Request, 0, len(segments))
	for _, seg := range segments {
		reqs = append(reqs, segmentRequest(seg))
	}
	return reqs
}

func segmentRequest(seg Segment) tooling.Request {
	req := tooling.Request{ID: "text-" + uuid.NewString(), Name: seg.Name}
	b, ok := bindings[strings.ToUpper(seg.Name)]
	if !ok {
		return req
	}
	req.Kind = b.kind
	req.Args = map[string]any{}
	if len(b.params) > 0 && seg.Arg != "" {
		fields := []string{seg.Arg}
		if len(b.params) > 1 {
			fields = strings.SplitN(seg.Arg, "|", len(b.params))
		}
		for i, field := range fields {
			if field = strings.TrimSpace(field); field != "" {
				req.Args[b.params[i]] = field
			}
		}
	}
	req.Args = tooling.CoerceArgs(b.kind, req.Args)
	return req
}

// DecodeCalls converts structured tool calls into requests, preserving order
// and ids. Text-only kinds are not reachable this way.
func DecodeCalls(calls []state.ToolCall) []tooling.Request {
	reqs := make([]tooling.Request, 0, len(calls))
	for _, call := range calls {
		req := tooling.Request{ID: call.ID, Name: call.Function.Name}
		kind, ok := tooling.LookupKind(call.Function.Name)
		if !ok || kind.Spec().TextOnly {
			reqs = append(reqs, req)
			continue
		}
		req.Kind = kind
		args, err := decodeArguments(call.Function.Arguments)
		if err != nil {
			req.Err = err
		} else {
			req.Args = args
		}
		reqs = append(reqs, req)
	}
	return reqs
}

func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		return nil, errors.New("arguments are not a JSON object")
	}
	return args, nil
}

// Commands lists the bracket command names, for prompts and tests.
func Commands() []string {
	out := make([]string, 0, len(bindings))
	for name := range bindings {
		out = append(out, name)
	}
	return out
}
