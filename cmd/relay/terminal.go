package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nidhogg/relay/internal/command"
	"github.com/nidhogg/relay/internal/router"
	"go.uber.org/zap"
)

const welcomeText = `Multi-Agent AI Assistant

Welcome! I'm your AI assistant powered by multiple specialized agents:

  WeatherAssistant  Get weather forecasts and current conditions
  SearchAssistant   Search the web and research topics

Commands:
  /help           Show this help message
  /agents         List available agents
  /history [n]    Show this session's conversation
  /clear          Clear the screen
  /quit or /exit  Exit the assistant

Tips:
  Ask me about the weather: "What's the weather in Paris?"
  Search for information: "Latest news on AI developments"
  Get forecasts: "Will it rain tomorrow in Tokyo?"

Press Ctrl-C to cancel a request in progress.
---`

const clearScreen = "\033[H\033[2J"

type processor interface {
	Process(ctx context.Context, sessionID, input string, cc *command.CommandContext) (*router.Reply, error)
}

// terminal is the interactive read-eval-print loop. Interrupts cancel the
// request in progress; at the prompt they only print a hint.
type terminal struct {
	proc       processor
	in         io.Reader
	out        io.Writer
	sessionID  string
	user       string
	interrupts <-chan os.Signal
	logger     *zap.Logger
}

func (t *terminal) run(ctx context.Context) error {
	t.welcome()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(t.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(t.out, "\nYou: ")
		select {
		case <-ctx.Done():
			return nil
		case <-t.interrupts:
			fmt.Fprintln(t.out, "\n\nUse /quit to exit")
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(t.out)
				return nil
			}
			if quit := t.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle processes one line and reports whether the user asked to quit.
func (t *terminal) handle(ctx context.Context, line string) bool {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		reply *router.Reply
		err   error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reply, err = t.proc.Process(runCtx, t.sessionID, line, &command.CommandContext{
			Platform: "terminal",
			UserName: t.user,
		})
	}()

	if !command.IsCommand(line) {
		fmt.Fprintln(t.out, "Thinking...")
	}
	select {
	case <-done:
	case <-t.interrupts:
		cancel()
		<-done
	}

	switch {
	case errors.Is(err, router.ErrEmptyInput):
		return false
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(t.out, "\nRequest cancelled.")
		return false
	case err != nil:
		t.logger.Error("query processing failed", zap.Error(err))
		if reply == nil {
			fmt.Fprintf(t.out, "\nError processing message: %v\n", err)
			return false
		}
		fmt.Fprintf(t.out, "\n%s\n", reply.Content)
		return false
	}

	if reply.Command {
		switch reply.Action {
		case command.ActionQuit:
			fmt.Fprintf(t.out, "\n%s\n", reply.Content)
			return true
		case command.ActionClear:
			fmt.Fprint(t.out, clearScreen)
			t.welcome()
			return false
		}
		fmt.Fprintf(t.out, "\n%s\n", reply.Content)
		return false
	}

	header := "Assistant"
	if reply.AgentName != "" {
		header += " (" + reply.AgentName + ")"
	}
	content := reply.Content
	if content == "" {
		content = "No response"
	}
	fmt.Fprintf(t.out, "\n%s:\n%s\n", header, content)
	return false
}

func (t *terminal) welcome() {
	fmt.Fprintln(t.out, welcomeText)
	fmt.Fprintf(t.out, "Session: %s\n", t.sessionID)
}
