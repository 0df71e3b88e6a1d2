package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Console prints role-tagged lines for the user, e.g. "[CMD] $ ls". Every
// line is mirrored to the shared logger, muted or not.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	muted  map[string]bool
	render *glamour.TermRenderer
}

// NewConsole builds a console. BOT messages are rendered as markdown when
// markdown is set and a renderer can be created.
func NewConsole(out io.Writer, muted []string, markdown bool) *Console {
	c := &Console{out: out, muted: make(map[string]bool, len(muted))}
	for _, role := range muted {
		c.muted[strings.ToUpper(strings.TrimSpace(role))] = true
	}
	if markdown {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			c.render = r
		}
	}
	return c
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Muted reports whether role is suppressed.
func (c *Console) Muted(role string) bool {
	return c.muted[strings.ToUpper(role)]
}

func (c *Console) Report(role, message string) {
	role = strings.ToUpper(role)
	Logger.Printf("[%s] %s", role, message)
	if c.muted[role] {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if role == "BOT" && c.render != nil {
		if rendered, err := c.render.Render(message); err == nil {
			fmt.Fprintf(c.out, "[%s]\n%s", role, rendered)
			return
		}
	}
	fmt.Fprintf(c.out, "[%s] %s\n", role, message)
}
