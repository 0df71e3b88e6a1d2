package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"momoka/internal/tooling"
)

// EndDialogue leaves the dialogue phase.
const EndDialogue = "/end"

// RoleAsk tags questions the model asks the user.
const RoleAsk = "ASK"

// Input reads one line from the user. io.EOF means the user is gone.
type Input interface {
	ReadLine(ctx context.Context, label string) (string, error)
}

type promptExit struct{}

var dialogueSuggestions = []prompt.Suggest{
	{Text: EndDialogue, Description: "end the conversation"},
}

// PromptInput reads lines through go-prompt with a persistent history.
type PromptInput struct {
	history *inputHistory
}

// NewPromptInput loads the history file at historyPath ("" disables it).
func NewPromptInput(historyPath string) *PromptInput {
	return &PromptInput{history: loadInputHistory(historyPath)}
}

func (p *PromptInput) ReadLine(ctx context.Context, label string) (line string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, st) }
		}
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); !ok {
				panic(r)
			}
			if restore != nil {
				restore()
			}
			line, err = "", io.EOF
		}
	}()

	line = prompt.Input(label, complete,
		prompt.OptionHistory(p.history.Entries()),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn:  func(*prompt.Buffer) { panic(promptExit{}) },
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						panic(promptExit{})
					}
				},
			},
		),
	)
	line = strings.TrimSpace(line)
	p.history.Add(line)
	return line, nil
}

func complete(doc prompt.Document) []prompt.Suggest {
	if !strings.HasPrefix(strings.TrimSpace(doc.TextBeforeCursor()), "/") {
		return nil
	}
	return prompt.FilterHasPrefix(dialogueSuggestions, doc.GetWordBeforeCursor(), true)
}

// LineInput reads plain lines, for pipes and tests.
type LineInput struct {
	r   *bufio.Reader
	out io.Writer
}

func NewLineInput(in io.Reader, out io.Writer) *LineInput {
	return &LineInput{r: bufio.NewReader(in), out: out}
}

func (l *LineInput) ReadLine(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(l.out, label)
	line, err := l.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// UserAsker answers ask_user from an Input. A user who closed the input
// counts as an empty reply.
type UserAsker struct {
	Input    Input
	Reporter tooling.Reporter
}

func (u UserAsker) Ask(ctx context.Context, question string) (string, error) {
	if u.Reporter != nil {
		u.Reporter.Report(RoleAsk, question)
	}
	reply, err := u.Input.ReadLine(ctx, "reply> ")
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	return reply, err
}
