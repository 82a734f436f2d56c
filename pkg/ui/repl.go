package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/rs/zerolog/log"
)

// REPL is the line-based fallback used when stdout is not a terminal. The
// REPL goroutine is the serialization point: it waits for each fetch and
// delivers it before reading the next line.
type REPL struct {
	manager *session.Manager
	in      io.Reader
	out     io.Writer

	you    *color.Color
	bot    *color.Color
	system *color.Color
	notice *color.Color
	errc   *color.Color
}

func NewREPL(manager *session.Manager, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		manager: manager,
		in:      in,
		out:     out,
		you:     color.New(color.FgCyan, color.Bold),
		bot:     color.New(color.FgMagenta, color.Bold),
		system:  color.New(color.Faint),
		notice:  color.New(color.FgYellow),
		errc:    color.New(color.FgRed),
	}
}

func (r *REPL) Run(ctx context.Context) error {
	r.printTranscript()

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		_, _ = r.you.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := Execute(ctx, r.manager, scanner.Text())
		if err != nil {
			_, _ = r.errc.Fprintln(r.out, err.Error())
			continue
		}
		if out.Notice != "" {
			_, _ = r.notice.Fprintln(r.out, out.Notice)
		}
		if out.Quit {
			return nil
		}
		if out.Fetch == nil {
			continue
		}

		res := out.Fetch.Wait()
		if err := r.manager.Deliver(res); err != nil {
			log.Warn().Err(err).Msg("Could not deliver fetch result")
			continue
		}
		tr := r.manager.Transcript()
		if last, ok := tr.Last(); ok {
			r.printMessage(tr.Len()-1, last)
		}
	}
}

func (r *REPL) printTranscript() {
	for idx, m := range r.manager.Transcript().Messages() {
		if m.Role == conversation.RoleSystem {
			continue
		}
		r.printMessage(idx, m)
	}
}

func (r *REPL) printMessage(idx int, m conversation.Message) {
	switch m.Role {
	case conversation.RoleHuman:
		_, _ = r.you.Fprint(r.out, "You: ")
	case conversation.RoleAssistant:
		_, _ = r.bot.Fprint(r.out, "Bot: ")
	case conversation.RoleSystem:
		_, _ = r.system.Fprint(r.out, "System: ")
	}
	if r.manager.Failed(idx) {
		_, _ = r.errc.Fprintln(r.out, m.Text)
		return
	}
	_, _ = fmt.Fprintln(r.out, m.Text)
}
