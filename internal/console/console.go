// Package console is a line-oriented user view for terminals. It drives the same
// dashboard state as the web view and prints variations as they arrive.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/display"
	"github.com/manash/vardash/internal/image"
	"github.com/manash/vardash/pkg/models"
)

type Console struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	user      *models.User
	dash      *dashboard.UserDashboard
	displayer *display.Displayer
	saver     *image.Saver
	readFile  func(string) ([]byte, error)
	commands  map[string]Command
	running   bool
}

type Config struct {
	In        io.Reader
	Out       io.Writer
	Err       io.Writer
	User      *models.User
	Dashboard *dashboard.UserDashboard
	// Displayer is optional; without it variations are listed by URL only.
	Displayer *display.Displayer
	Saver     *image.Saver
	ReadFile  func(string) ([]byte, error)
}

func New(cfg *Config) *Console {
	readFile := cfg.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	c := &Console{
		in:        cfg.In,
		out:       &syncWriter{w: cfg.Out},
		err:       &syncWriter{w: cfg.Err},
		user:      cfg.User,
		dash:      cfg.Dashboard,
		displayer: cfg.Displayer,
		saver:     cfg.Saver,
		readFile:  readFile,
		commands:  make(map[string]Command),
	}
	c.registerCommands()
	return c
}

// Run reads commands until quit or end of input. Variations received meanwhile are
// announced as they arrive.
func (c *Console) Run(ctx context.Context) error {
	c.running = true
	c.printWelcome()

	updates, stop := c.dash.Watch()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.announce(updates)
	}()
	defer func() {
		stop()
		<-done
	}()

	scanner := bufio.NewScanner(c.in)
	for c.running {
		c.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := c.execute(ctx, line); err != nil {
			fmt.Fprintf(c.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (c *Console) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	name := strings.ToLower(parts[0])
	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", name)
	}
	return cmd.Execute(ctx, c, parts[1:])
}

func (c *Console) Stop() {
	c.running = false
}

// announce prints every variation appended after the first snapshot.
func (c *Console) announce(updates <-chan dashboard.Snapshot) {
	seen := -1
	for snap := range updates {
		if seen < 0 {
			seen = len(snap.GeneratedImages)
			continue
		}
		for i := seen; i < len(snap.GeneratedImages); i++ {
			fmt.Fprintf(c.out, "\n[%s%%] variation %d: %s\n", formatProgress(snap.Progress), i+1, snap.GeneratedImages[i])
		}
		if len(snap.GeneratedImages) > seen {
			seen = len(snap.GeneratedImages)
		}
	}
}

func (c *Console) printWelcome() {
	fmt.Fprintf(c.out, "vardash console, signed in as %s\n", c.user.Name)
	fmt.Fprintln(c.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(c.out)
}

func (c *Console) printPrompt() {
	snap := c.dash.Snapshot()
	switch {
	case snap.IsGenerating:
		fmt.Fprintf(c.out, "vardash [%s%%]> ", formatProgress(snap.Progress))
	case snap.Filename != "":
		fmt.Fprintf(c.out, "vardash (%s)> ", snap.Filename)
	default:
		fmt.Fprint(c.out, "vardash> ")
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
