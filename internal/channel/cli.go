// Package channel holds the user-facing front ends of the agent.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"bdagent/internal/agent"
)

const (
	Greeting = "Bangladesh AI Agent is ready! Type your question (or 'quit' to exit)."
	prompt   = "\nYou: "
)

// Asker answers one question; *agent.Session implements it.
type Asker interface {
	Ask(ctx context.Context, text string) (*agent.Reply, error)
}

type CLIConfig struct {
	Session Asker
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate while waiting; only useful on a terminal
}

// CLI is the line-based interactive loop.
type CLI struct {
	session   Asker
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	spinner   bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		session: cfg.Session,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

// Run reads questions until quit/exit, EOF, or ctx is cancelled. Blank lines
// re-prompt. A failed question is reported and the loop continues.
func (c *CLI) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(c.out, Greeting)
	for {
		fmt.Fprint(c.out, prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(c.out)
			select {
			case err := <-readErr:
				return err
			default:
				return nil
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isQuit(line) {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		reply, err := c.session.Ask(ctx, line)
		c.stopThinking()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("question failed", "error", err)
			fmt.Fprintf(c.out, "\nAgent: Sorry, I encountered an error: %v\n", err)
			continue
		}
		fmt.Fprintf(c.out, "\nAgent: %s\n", reply.Text)
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(line) {
	case "quit", "exit":
		return true
	}
	return false
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinkStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.thinkStop, c.thinkDone = stop, done
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinkStop == nil {
		return
	}
	close(c.thinkStop)
	<-c.thinkDone
	c.thinkStop, c.thinkDone = nil, nil
}
