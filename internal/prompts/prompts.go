package prompts

import (
	"bytes"
	_ "embed"
	"strings"
	"sync"
	"text/template"
)

var (
	//go:embed system_tools.txt
	toolsPrompt string
	//go:embed system_text.txt
	textPrompt string
	//go:embed dialogue.txt
	dialoguePrompt string

	toolsTmpl = template.Must(template.New("tools").Parse(toolsPrompt))
	textTmpl  = template.Must(template.New("text").Parse(textPrompt))
)

var (
	metadataMu sync.RWMutex
	metadata   string
)

// Work describes the state rendered into the working system prompt.
type Work struct {
	Request string
	Cwd     string
	WorkDir string
	// Status is the mode summary, e.g. "edit mode: no\nreplace mode: no".
	Status string
}

// Tools renders the system prompt for the structured tool protocol.
func Tools(w Work) string {
	return render(toolsTmpl, w)
}

// Text renders the bracket protocol prompt. It is rebuilt every turn so the
// model sees the current directory and mode.
func Text(w Work) string {
	return render(textTmpl, w)
}

// Dialogue is the system prompt used after finish for the summary and chat.
func Dialogue() string {
	return withMetadata(strings.TrimSpace(dialoguePrompt))
}

func render(t *template.Template, w Work) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, w); err != nil {
		// Templates are static and Work has only string fields.
		panic(err)
	}
	return withMetadata(strings.TrimSpace(buf.String()))
}

func withMetadata(prompt string) string {
	if meta := getMetadata(); meta != "" {
		return prompt + "\n\n## Environment Context\n" + meta
	}
	return prompt
}

// SetMetadata defines the environment metadata appended to the system prompt.
func SetMetadata(info string) {
	metadataMu.Lock()
	defer metadataMu.Unlock()
	metadata = strings.TrimSpace(info)
}

func getMetadata() string {
	metadataMu.RLock()
	defer metadataMu.RUnlock()
	return metadata
}
