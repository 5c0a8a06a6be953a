// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for the chatrelay CLI.
//
// Command: chat
// Short:   Chat with a completion endpoint
//
// Examples:
//   chatrelay chat                               Use client.endpoint_url
//   chatrelay chat --url http://localhost:8787   Use a specific endpoint
//   chatrelay chat --no-markdown                 Print raw assistant text
//
// Interactive Commands (during chat):
//   y / n               Answer a pending confirmation
//   /stop               Stop the response in flight
//   /retry              Regenerate the last response
//   /reasoning          Expand or collapse reasoning
//   /history            Print the conversation
//   /help               Show available commands
//   /quit               Exit chat
//   Ctrl+C              Stop the response while it streams
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/chat"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/tools"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(flags *rootFlags) *cobra.Command {
	var (
		url        string
		noMarkdown bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a completion endpoint",
		Long: `Start an interactive chat with a chatrelay completion endpoint.

Client tools run locally: getLocation is answered automatically and
askForConfirmation waits for you to answer y or n.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Client.EndpointURL = url
			}
			if noMarkdown {
				cfg.Client.Markdown = false
			}
			return runChat(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "completion endpoint base URL (overrides client.endpoint_url)")
	cmd.Flags().BoolVar(&noMarkdown, "no-markdown", false, "print assistant text without markdown rendering")
	return cmd
}

// runChat wires a session to the terminal and runs the REPL until exit.
func runChat(ctx context.Context, cfg *config.Config) error {
	session := chat.NewSession(chat.NewHTTPTransport(cfg.Client.EndpointURL), chat.NewAutoResolver())
	defer session.Close()

	input := newLinerInput()
	defer input.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	width := GetTerminalWidth()
	renderer := NewRenderer(cfg.Client.Markdown, width)
	renderer.SetShowReasoning(cfg.Client.ShowReasoning)

	repl := newChatREPL(session, input, os.Stdout, renderer, IsStdoutTTY(), width, sigCh)
	repl.endpoint = cfg.Client.EndpointURL
	return repl.Run(ctx)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader is the line editor used by the REPL.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// linerInput provides history and line editing through liner.
type linerInput struct {
	line        *liner.State
	historyFile string
}

func newLinerInput() *linerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &linerInput{line: line, historyFile: filepath.Join(dir, "chat_history")}

	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *linerInput) Prompt(prompt string) (string, error) {
	return in.line.Prompt(prompt)
}

func (in *linerInput) AppendHistory(item string) {
	in.line.AppendHistory(item)
}

// Close saves history with owner-only permissions and restores the terminal.
func (in *linerInput) Close() {
	if err := os.MkdirAll(filepath.Dir(in.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			in.line.WriteHistory(f)
			f.Close()
		}
	}
	in.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// cursor marks how much of the conversation has been printed: every
// message before msg, and the first part parts of message msg.
type cursor struct {
	msg  int
	part int
}

type chatREPL struct {
	session   *chat.Session
	input     lineReader
	out       io.Writer
	render    *Renderer
	view      *liveView
	updates   <-chan struct{}
	interrupt <-chan os.Signal
	endpoint  string

	printed cursor
}

func newChatREPL(session *chat.Session, input lineReader, out io.Writer, render *Renderer, tty bool, width int, interrupt <-chan os.Signal) *chatREPL {
	return &chatREPL{
		session:   session,
		input:     input,
		out:       out,
		render:    render,
		view:      newLiveView(out, tty, width),
		updates:   session.Subscribe(),
		interrupt: interrupt,
	}
}

// Run reads input until EOF, Ctrl+C at the prompt, or /quit.
func (c *chatREPL) Run(ctx context.Context) error {
	c.printWelcome()

	for {
		msgs, _, _ := c.session.Snapshot()
		pending := pendingConfirmation(msgs)

		prompt := promptStyle.Render("> ")
		if pending != nil {
			prompt = ConfirmationPrompt(pending) + " "
		}

		line, err := c.input.Prompt(prompt)
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) and io.EOF (Ctrl+D) both exit.
			fmt.Fprintln(c.out)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.input.AppendHistory(line)

		if strings.HasPrefix(line, "/") {
			if quit := c.handleCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		if pending != nil {
			answer, ok := parseConfirmation(line)
			if !ok {
				fmt.Fprintln(c.out, mutedStyle.Render("Answer y or n."))
				continue
			}
			if err := c.session.AddToolResult(pending.ToolCallID, answer); err != nil {
				fmt.Fprint(c.out, c.render.RenderError(err.Error()))
				continue
			}
			c.waitTurn(ctx)
			continue
		}

		c.send(ctx, line)
	}
}

func (c *chatREPL) printWelcome() {
	fmt.Fprintln(c.out, welcomeStyle.Render("chatrelay chat"))
	if c.endpoint != "" {
		fmt.Fprintln(c.out, mutedStyle.Render("Endpoint: "+c.endpoint))
	}
	fmt.Fprintln(c.out, mutedStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(c.out)
}

// send submits a prompt and follows the response.
func (c *chatREPL) send(ctx context.Context, text string) {
	msgs, _, _ := c.session.Snapshot()
	if err := c.session.SendMessage(text); err != nil {
		fmt.Fprint(c.out, c.render.RenderError(err.Error()))
		return
	}
	// The user message lands at len(msgs); the reply follows it.
	c.printed = cursor{msg: len(msgs) + 1}
	c.waitTurn(ctx)
}

// regenerate re-sends the last user message and follows the response.
func (c *chatREPL) regenerate(ctx context.Context) {
	msgs, _, _ := c.session.Snapshot()
	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == uimsg.RoleUser {
			lastUser = i
			break
		}
	}
	if err := c.session.Regenerate(); err != nil {
		fmt.Fprint(c.out, c.render.RenderError(err.Error()))
		return
	}
	c.printed = cursor{msg: lastUser + 1}
	c.waitTurn(ctx)
}

// =============================================================================
// TURN TRACKING
// =============================================================================

type turnPhase int

const (
	// phaseBusy: a stream is in flight or a client tool is being resolved.
	phaseBusy turnPhase = iota
	// phaseConfirm: the turn is waiting for the user to answer a question.
	phaseConfirm
	// phaseIdle: nothing more will happen without user input.
	phaseIdle
)

// turnPhaseOf classifies a session snapshot.
func turnPhaseOf(msgs []uimsg.Message, status chat.Status) turnPhase {
	switch status {
	case chat.StatusSubmitted, chat.StatusStreaming:
		return phaseBusy
	case chat.StatusError:
		return phaseIdle
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != uimsg.RoleAssistant {
		return phaseIdle
	}

	phase := phaseIdle
	last := &msgs[len(msgs)-1]
	for _, p := range last.ToolParts() {
		if p.ProviderExecuted || p.State != uimsg.StateInputAvailable {
			continue
		}
		if p.ToolName() == tools.ConfirmationToolName {
			phase = phaseConfirm
			continue
		}
		// Dispatched to a tool handler; its result triggers a continuation.
		return phaseBusy
	}
	return phase
}

// pendingConfirmation returns the first unanswered confirmation in the last
// assistant message, or nil.
func pendingConfirmation(msgs []uimsg.Message) *uimsg.Part {
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != uimsg.RoleAssistant {
		return nil
	}
	for _, p := range msgs[len(msgs)-1].ToolParts() {
		if !p.ProviderExecuted && p.State == uimsg.StateInputAvailable && p.ToolName() == tools.ConfirmationToolName {
			return p
		}
	}
	return nil
}

// parseConfirmation maps y/yes and n/no to the confirmation results.
func parseConfirmation(input string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return tools.ConfirmYes, true
	case "n", "no":
		return tools.ConfirmNo, true
	}
	return "", false
}

// waitTurn repaints the response until the turn goes idle or needs the user.
func (c *chatREPL) waitTurn(ctx context.Context) {
	for {
		msgs, status, err := c.session.Snapshot()
		switch turnPhaseOf(msgs, status) {
		case phaseIdle:
			c.finishTurn(msgs, status, err)
			return
		case phaseConfirm:
			c.commitSettled(msgs)
			return
		}

		var retry <-chan time.Time
		if !c.view.Update(c.liveFrame(msgs, status)) {
			retry = time.After(RepaintInterval)
		}

		select {
		case <-ctx.Done():
			c.session.Stop()
			msgs, status, err = c.session.Snapshot()
			c.finishTurn(msgs, status, err)
			return
		case <-c.interrupt:
			c.session.Stop()
		case _, ok := <-c.updates:
			if !ok {
				return
			}
		case <-retry:
		}
	}
}

// liveFrame renders everything not yet printed.
func (c *chatREPL) liveFrame(msgs []uimsg.Message, status chat.Status) string {
	frame := c.unprinted(msgs, len(msgs), 0, false)
	if frame == "" && status == chat.StatusSubmitted {
		return mutedStyle.Render("Thinking...") + "\n"
	}
	return frame
}

// unprinted renders from the print cursor up to part endPart of message
// endMsg (exclusive), or to the end when endMsg is len(msgs).
func (c *chatREPL) unprinted(msgs []uimsg.Message, endMsg, endPart int, final bool) string {
	var sb strings.Builder
	for i := c.printed.msg; i < len(msgs) && i <= endMsg; i++ {
		m := &msgs[i]
		if m.Role != uimsg.RoleAssistant {
			continue
		}
		from, to := 0, len(m.Parts)
		if i == c.printed.msg {
			from = min(c.printed.part, len(m.Parts))
		}
		if i == endMsg {
			to = min(endPart, len(m.Parts))
		}
		if from < to {
			sb.WriteString(c.render.RenderParts(m.Parts[from:to], final))
		}
	}
	return sb.String()
}

// commitSettled prints the last message up to its first unresolved tool
// call. The unresolved question is shown by the prompt instead.
func (c *chatREPL) commitSettled(msgs []uimsg.Message) {
	lastIdx := len(msgs) - 1
	last := &msgs[lastIdx]
	settled := len(last.Parts)
	for i := range last.Parts {
		if last.Parts[i].IsTool() && !last.Parts[i].State.IsTerminal() {
			settled = i
			break
		}
	}
	c.view.Commit(c.unprinted(msgs, lastIdx, settled, true))
	c.printed = cursor{msg: lastIdx, part: settled}
}

// finishTurn prints the rest of the response and any error.
func (c *chatREPL) finishTurn(msgs []uimsg.Message, status chat.Status, err error) {
	frame := c.unprinted(msgs, len(msgs), 0, true)

	errText := ""
	if n := len(msgs); n > 0 && msgs[n-1].Role == uimsg.RoleAssistant && n-1 >= c.printed.msg {
		errText = msgs[n-1].ErrorText()
	}
	if errText == "" && status == chat.StatusError && err != nil {
		errText = err.Error()
	}
	if errText != "" {
		frame += c.render.RenderError(errText)
	}

	c.view.Commit(frame)
	c.printed = cursor{msg: len(msgs)}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand runs a slash command and reports whether to exit.
func (c *chatREPL) handleCommand(ctx context.Context, input string) bool {
	cmd := strings.ToLower(strings.Fields(input)[0])
	switch cmd {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h":
		c.printHelp()

	case "/stop":
		c.session.Stop()
		msgs, status, err := c.session.Snapshot()
		c.finishTurn(msgs, status, err)

	case "/retry", "/r":
		c.regenerate(ctx)

	case "/reasoning":
		c.render.SetShowReasoning(!c.render.ShowReasoning())
		state := "collapsed"
		if c.render.ShowReasoning() {
			state = "expanded"
		}
		fmt.Fprintln(c.out, mutedStyle.Render("Reasoning "+state+"."))

	case "/history":
		msgs, _, _ := c.session.Snapshot()
		for i := range msgs {
			fmt.Fprint(c.out, c.render.RenderMessage(&msgs[i]))
		}

	default:
		fmt.Fprint(c.out, c.render.RenderError(fmt.Sprintf("unknown command %s (try /help)", cmd)))
	}
	return false
}

func (c *chatREPL) printHelp() {
	rows := [][2]string{
		{"y / n", "Answer a pending confirmation"},
		{"/stop", "Stop the response in flight"},
		{"/retry", "Regenerate the last response"},
		{"/reasoning", "Expand or collapse reasoning"},
		{"/history", "Print the conversation"},
		{"/quit", "Exit chat"},
		{"Ctrl+C", "Stop a streaming response"},
	}
	for _, r := range rows {
		fmt.Fprintln(c.out, labelStyle.Render(r[0])+r[1])
	}
}
