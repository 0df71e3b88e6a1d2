package tooling

// Kind enumerates every action the agent can dispatch. The set is closed:
// the executor switches over it and the catalog is indexed by it.
type Kind int

const (
	KindUnknown Kind = iota
	KindRunCommand
	KindWriteFile
	KindPatchFile
	KindReadFile
	KindChangeDirectory
	KindAskUser
	KindEmitOutput
	KindFinish
	KindOpen
	KindReadPage
	KindFindText
	KindClick
	KindTypeText
	KindSelectOption
	KindHover
	KindBack
	KindForward
	KindScreenshot
	KindExportPDF
	KindDownload
	KindUpload
	KindEvaluateScript
	KindCloseBrowser
	// Reachable only from the bracket language.
	KindBeginEdit
	KindBeginReplace
	KindReport

	kindCount
)

const (
	DefaultReadPageChars = 4000
	DefaultFindTextLimit = 10
	paramTypeString      = "string"
	paramTypeInteger     = "integer"
)

// Param describes one action argument.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
}

// Spec is the catalog entry for a Kind.
type Spec struct {
	Kind        Kind
	Name        string
	Description string
	Params      []Param
	// TextOnly actions are not advertised to the structured protocol.
	TextOnly bool
}

func str(name, desc string) Param {
	return Param{Name: name, Type: paramTypeString, Description: desc, Required: true}
}

func optStr(name, desc string) Param {
	return Param{Name: name, Type: paramTypeString, Description: desc}
}

func optInt(name, desc string, def int) Param {
	return Param{Name: name, Type: paramTypeInteger, Description: desc, Default: def}
}

var catalog = [kindCount]Spec{
	KindRunCommand: {
		Name:        "run_command",
		Description: "Run a shell command in the current working directory. Output is stdout followed by stderr; commands are killed after the configured timeout.",
		Params:      []Param{str("command", "Shell command line to execute.")},
	},
	KindWriteFile: {
		Name:        "write_file",
		Description: "Overwrite a file with the given full content, creating it if absent.",
		Params: []Param{
			str("path", "File path, absolute or relative to the working directory."),
			{Name: "content", Type: paramTypeString, Description: "Complete new file content.", Required: true},
		},
	},
	KindPatchFile: {
		Name:        "patch_file",
		Description: "Replace the first occurrence of old_text with new_text in a file. Fails if old_text is not present.",
		Params: []Param{
			str("path", "File path, absolute or relative to the working directory."),
			str("old_text", "Exact text to search for."),
			{Name: "new_text", Type: paramTypeString, Description: "Replacement text.", Required: true},
		},
	},
	KindReadFile: {
		Name:        "read_file",
		Description: "Read a whole file. Older copies of the same file in the conversation are folded.",
		Params:      []Param{str("path", "File path, absolute or relative to the working directory. No wildcards.")},
	},
	KindChangeDirectory: {
		Name:        "change_directory",
		Description: "Change the working directory used by later commands and relative paths.",
		Params:      []Param{str("path", "Directory, absolute or relative to the current one.")},
	},
	KindAskUser: {
		Name:        "ask_user",
		Description: "Ask the user a question and wait for the reply.",
		Params:      []Param{str("question", "Question shown to the user.")},
	},
	KindEmitOutput: {
		Name:        "emit_output",
		Description: "Send a message to the user.",
		Params:      []Param{str("message", "Message text.")},
	},
	KindFinish: {
		Name:        "finish",
		Description: "Deliver the work and end the session.",
	},
	KindOpen: {
		Name:        "open",
		Description: "Open a URL in the browser session.",
		Params:      []Param{str("url", "Absolute URL.")},
	},
	KindReadPage: {
		Name:        "read_page",
		Description: "Read the visible text of the current page.",
		Params:      []Param{optInt("max_chars", "Maximum characters to return.", DefaultReadPageChars)},
	},
	KindFindText: {
		Name:        "find_text",
		Description: "Find elements on the current page containing the text.",
		Params: []Param{
			str("text", "Text to search for."),
			optInt("max_results", "Maximum matches to return.", DefaultFindTextLimit),
		},
	},
	KindClick: {
		Name:        "click",
		Description: "Click the element matching a CSS selector (links navigate, submit buttons submit their form).",
		Params:      []Param{str("selector", "CSS selector.")},
	},
	KindTypeText: {
		Name:        "type_text",
		Description: "Type text into the input matching a CSS selector.",
		Params:      []Param{str("selector", "CSS selector."), {Name: "text", Type: paramTypeString, Description: "Text to enter.", Required: true}},
	},
	KindSelectOption: {
		Name:        "select_option",
		Description: "Choose an option of a select element by value, label, or index.",
		Params:      []Param{str("selector", "CSS selector."), str("value", "Option value, label, or zero-based index.")},
	},
	KindHover: {
		Name:        "hover",
		Description: "Hover the element matching a CSS selector.",
		Params:      []Param{str("selector", "CSS selector.")},
	},
	KindBack: {
		Name:        "back",
		Description: "Go back in browser history.",
	},
	KindForward: {
		Name:        "forward",
		Description: "Go forward in browser history.",
	},
	KindScreenshot: {
		Name:        "screenshot",
		Description: "Save a screenshot of the current page into a directory.",
		Params:      []Param{optStr("dir", "Target directory, defaults to the working directory.")},
	},
	KindExportPDF: {
		Name:        "export_pdf",
		Description: "Export the current page into a directory.",
		Params:      []Param{optStr("dir", "Target directory, defaults to the working directory.")},
	},
	KindDownload: {
		Name:        "download",
		Description: "Download a URL into a directory using the browser session's cookies.",
		Params:      []Param{str("url", "Absolute URL."), optStr("dir", "Target directory, defaults to the working directory.")},
	},
	KindUpload: {
		Name:        "upload",
		Description: "Attach a local file to the file input matching a CSS selector.",
		Params:      []Param{str("selector", "CSS selector."), str("path", "Local file path.")},
	},
	KindEvaluateScript: {
		Name:        "evaluate_script",
		Description: "Evaluate a JavaScript expression in the page.",
		Params:      []Param{str("script", "JavaScript expression.")},
	},
	KindCloseBrowser: {
		Name:        "close_browser",
		Description: "Close the browser session.",
	},
	KindBeginEdit: {
		Name:        "begin_edit",
		Description: "Enter edit mode: the next reply is written as the full content of the file.",
		Params:      []Param{str("path", "File path.")},
		TextOnly:    true,
	},
	KindBeginReplace: {
		Name:        "begin_replace",
		Description: "Enter replace mode: the next reply is the old text, the one after that the new text.",
		Params:      []Param{str("path", "File path.")},
		TextOnly:    true,
	},
	KindReport: {
		Name:        "report",
		Description: "Report plans or progress to the user.",
		Params:      []Param{str("message", "Report text.")},
		TextOnly:    true,
	},
}

var kindsByName = func() map[string]Kind {
	out := make(map[string]Kind, kindCount)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out[catalog[k].Name] = k
	}
	return out
}()

// Kinds returns every dispatchable kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// LookupKind resolves an action name.
func LookupKind(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// Spec returns the catalog entry for k.
func (k Kind) Spec() Spec {
	if k <= KindUnknown || k >= kindCount {
		return Spec{Kind: KindUnknown, Name: "unknown"}
	}
	spec := catalog[k]
	spec.Kind = k
	return spec
}

func (k Kind) String() string {
	return k.Spec().Name
}

// IsBrowser reports whether k is served by the browser collaborator.
func (k Kind) IsBrowser() bool {
	return k >= KindOpen && k <= KindCloseBrowser
}

// Param looks up an argument description by name.
func (s Spec) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Schema renders the JSON schema advertised to the model and used for validation.
func (s Spec) Schema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Definitions returns the catalog advertised to the structured protocol.
func Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, kindCount)
	for _, k := range Kinds() {
		spec := k.Spec()
		if spec.TextOnly {
			continue
		}
		defs = append(defs, ToolDefinition{
			Type: "function",
			Function: ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema(),
			},
		})
	}
	return defs
}
