package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/xiaot623/sparring/internal/capture"
	"github.com/xiaot623/sparring/internal/composer"
	"github.com/xiaot623/sparring/internal/domain"
	"github.com/xiaot623/sparring/internal/store"
)

const chatHelp = `Type a message and press Enter to send.
Commands:
  /new                   start a new session
  /sessions              list sessions
  /switch <id>           open a session
  /rename <id> <title>   rename a session
  /delete <id>           delete a session
  /attach <path>         queue a file for the next message
  /unattach <n>          drop the n-th queued file
  /clear                 discard the draft and all queued files
  /record <path>         record audio, played back from a file
  /stop | /cancel        finish or discard the recording
  /quit                  exit`

func newChatCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, closeFn, err := a.newStore(ctx, a.client())
			if err != nil {
				return err
			}
			defer closeFn()

			engine, err := a.policy(ctx)
			if err != nil {
				return err
			}

			r := &repl{
				st:     st,
				draft:  composer.New(engine, a.logger),
				in:     bufio.NewScanner(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
				prompt: isTerminal(cmd.InOrStdin()),
				logger: a.logger,
			}
			if _, err := st.ListSessions(ctx); err != nil {
				r.printErr(err)
			}
			if sessionID != "" {
				if err := st.SelectSession(ctx, sessionID); err != nil {
					return userError(err)
				}
				r.printMessages()
			}
			return r.run(ctx)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "open this session on start")
	return cmd
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type repl struct {
	st       *store.Store
	draft    *composer.Composer
	in       *bufio.Scanner
	out      io.Writer
	prompt   bool
	recorder *capture.Recorder
	logger   *slog.Logger
}

func (r *repl) run(ctx context.Context) error {
	unsubscribe := r.st.Subscribe(r.onEvent)
	defer unsubscribe()
	defer func() {
		if r.recorder != nil {
			r.recorder.Cancel()
		}
	}()

	if r.prompt {
		fmt.Fprintln(r.out, chatHelp)
	}
	for {
		if r.prompt {
			fmt.Fprint(r.out, "> ")
		}
		if !r.in.Scan() {
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			fmt.Fprintln(r.out, "Bye!")
			return nil
		}
		if strings.HasPrefix(line, "/") {
			r.command(ctx, line)
			continue
		}
		r.send(ctx, line)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// onEvent prints what the user did not type: assistant replies and failed
// deliveries.
func (r *repl) onEvent(ev store.Event) {
	switch ev.Type {
	case store.EventMessageAppended:
		if ev.Message != nil && ev.Message.Sender == domain.SenderAssistant {
			printMessage(r.out, *ev.Message)
		}
	case store.EventMessageUpdated:
		if ev.Message != nil && ev.Message.Delivery == domain.DeliveryFailed {
			fmt.Fprintln(r.out, "! message not delivered")
		}
	}
}

func (r *repl) send(ctx context.Context, text string) {
	r.draft.SetText(text)
	msg, err := r.st.Send(ctx, r.draft.Draft())
	if err != nil {
		r.printErr(err)
		return
	}
	if msg == nil {
		fmt.Fprintln(r.out, "Still waiting for the previous reply")
		return
	}
	r.draft.Consume()
}

func (r *repl) command(ctx context.Context, line string) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/help":
		fmt.Fprintln(r.out, chatHelp)

	case "/new":
		s, err := r.st.CreateSession(ctx)
		if err != nil {
			r.printErr(err)
			return
		}
		fmt.Fprintf(r.out, "Session %s\n", s.ID)

	case "/sessions":
		sessions, err := r.st.ListSessions(ctx)
		if err != nil {
			r.printErr(err)
			return
		}
		writeSessions(r.out, sessions, r.st.ActiveSessionID())

	case "/switch":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /switch <id>")
			return
		}
		if err := r.st.SelectSession(ctx, args[0]); err != nil {
			r.printErr(err)
			return
		}
		r.printMessages()

	case "/rename":
		if len(args) < 1 {
			fmt.Fprintln(r.out, "usage: /rename <id> <title>")
			return
		}
		if err := r.st.RenameSession(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
			r.printErr(err)
		}

	case "/delete":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /delete <id>")
			return
		}
		if err := r.st.RequestDelete(args[0]); err != nil {
			r.printErr(err)
			return
		}
		if !r.confirm(fmt.Sprintf("Delete session %s? [y/N] ", args[0])) {
			r.st.CancelDelete(args[0])
			return
		}
		if err := r.st.DeleteSession(ctx, args[0]); err != nil {
			r.printErr(err)
		}

	case "/attach":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /attach <path>")
			return
		}
		att, err := r.draft.AddPath(ctx, args[0])
		if err != nil {
			r.printErr(err)
			return
		}
		fmt.Fprintf(r.out, "Attached %s (%s)\n", att.Name, att.Kind)

	case "/unattach":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /unattach <n>")
			return
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			fmt.Fprintln(r.out, "usage: /unattach <n>")
			return
		}
		if err := r.draft.Remove(n - 1); err != nil {
			fmt.Fprintf(r.out, "! %v\n", err)
			return
		}
		fmt.Fprintf(r.out, "%d attachment(s) queued\n", len(r.draft.Attachments()))

	case "/clear":
		r.draft.Reset()
		fmt.Fprintln(r.out, "Draft cleared")

	case "/record":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /record <path>")
			return
		}
		if r.recorder != nil && r.recorder.State() == capture.StateRecording {
			fmt.Fprintln(r.out, "Already recording")
			return
		}
		rec := capture.NewRecorder(capture.FileDevice{Path: args[0], Interval: 50 * time.Millisecond},
			capture.WithLogger(r.logger))
		if err := rec.Start(ctx); err != nil {
			r.printErr(err)
			return
		}
		r.recorder = rec
		fmt.Fprintln(r.out, "Recording... /stop to attach, /cancel to discard")

	case "/stop":
		if r.recorder == nil {
			r.printErr(domain.ErrNotRecording)
			return
		}
		elapsed := r.recorder.Elapsed()
		att, err := r.recorder.Stop()
		if err != nil {
			r.printErr(err)
			return
		}
		r.draft.AttachRecording(att)
		fmt.Fprintf(r.out, "Recording attached (%s, %d bytes)\n", elapsed.Round(time.Second), len(att.Data))

	case "/cancel":
		if r.recorder != nil {
			r.recorder.Cancel()
		}
		fmt.Fprintln(r.out, "Recording discarded")

	default:
		fmt.Fprintf(r.out, "Unknown command %s, try /help\n", name)
	}
}

func (r *repl) confirm(question string) bool {
	fmt.Fprint(r.out, question)
	if !r.in.Scan() {
		return false
	}
	return isYes(r.in.Text())
}

func (r *repl) printMessages() {
	for _, m := range r.st.Messages() {
		printMessage(r.out, m)
	}
}

func (r *repl) printErr(err error) {
	fmt.Fprintf(r.out, "! %s\n", domain.UserMessage(err))
}

func printMessage(w io.Writer, m domain.Message) {
	label := "you"
	if m.Sender == domain.SenderAssistant {
		label = "partner"
	}
	var media string
	switch c := m.Content.(type) {
	case domain.AudioContent:
		media = " [audio]"
	case domain.ImageContent:
		media = " [image]"
	case domain.PDFContent:
		media = fmt.Sprintf(" [pdf %s, %d pages]", c.Title, c.PageCount)
	}
	var status string
	if m.Provisional() {
		status = " (sending)"
		if m.Delivery == domain.DeliveryFailed {
			status = " (not delivered)"
		}
	}
	fmt.Fprintf(w, "%s:%s %s%s\n", label, media, m.Text(), status)
}

// confirm asks a y/N question on a fresh reader.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return isYes(line)
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
