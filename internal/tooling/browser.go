package tooling

import (
	"context"
	"errors"
)

// RoleBrowser tags browser lines shown to the user.
const RoleBrowser = "BROWSER"

func (e *Executor) browse(ctx context.Context, k Kind, args map[string]any) Result {
	if e.browser == nil {
		return Result{Err: collaboratorFailure(k, errors.New("no browser is configured"))}
	}
	selector, _ := stringArg(args, "selector")
	dir, _ := stringArg(args, "dir")
	dir = resolvePath(e.session.WorkDir(), dir)

	var (
		text string
		err  error
	)
	switch k {
	case KindOpen:
		rawURL, _ := stringArg(args, "url")
		text, err = e.browser.Open(ctx, rawURL)
	case KindReadPage:
		text, err = e.browser.ReadPage(ctx, intArg(args, "max_chars", DefaultReadPageChars))
	case KindFindText:
		needle, _ := stringArg(args, "text")
		text, err = e.browser.FindText(ctx, needle, intArg(args, "max_results", DefaultFindTextLimit))
	case KindClick:
		text, err = e.browser.Click(ctx, selector)
	case KindTypeText:
		value, _ := stringArg(args, "text")
		text, err = e.browser.TypeText(ctx, selector, value)
	case KindSelectOption:
		value, _ := stringArg(args, "value")
		text, err = e.browser.SelectOption(ctx, selector, value)
	case KindHover:
		text, err = e.browser.Hover(ctx, selector)
	case KindBack:
		text, err = e.browser.Back(ctx)
	case KindForward:
		text, err = e.browser.Forward(ctx)
	case KindScreenshot:
		text, err = e.browser.Screenshot(ctx, dir)
	case KindExportPDF:
		text, err = e.browser.ExportPDF(ctx, dir)
	case KindDownload:
		rawURL, _ := stringArg(args, "url")
		text, err = e.browser.Download(ctx, rawURL, dir)
	case KindUpload:
		local, _ := stringArg(args, "path")
		text, err = e.browser.Upload(ctx, selector, resolvePath(e.session.WorkDir(), local))
	case KindEvaluateScript:
		script, _ := stringArg(args, "script")
		text, err = e.browser.EvaluateScript(ctx, script)
	case KindCloseBrowser:
		text, err = e.browser.Close()
	default:
		return Result{Err: &ActionError{Kind: ErrUnknownAction, Target: k.String()}}
	}
	if err != nil {
		return Result{Err: collaboratorFailure(k, err)}
	}
	if k == KindOpen || k == KindDownload {
		e.reporter.Report(RoleBrowser, firstLine(text))
	}
	return Result{Text: text}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
