package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/manash/memegen/internal/display"
	"github.com/manash/memegen/internal/session"
	"github.com/manash/memegen/internal/studio"
)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	studio    *studio.Studio
	projects  *session.Manager
	displayer *display.Displayer
	logger    *log.Logger
	commands  map[string]Command
	ordered   []Command
	running   bool
}

type Config struct {
	In        io.Reader
	Out       io.Writer
	Err       io.Writer
	Studio    *studio.Studio
	Projects  *session.Manager
	Displayer *display.Displayer
	Logger    *log.Logger
}

func New(cfg *Config) *REPL {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	displayer := cfg.Displayer
	if displayer == nil {
		displayer = display.New(cfg.Out)
	}
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		studio:    cfg.Studio,
		projects:  cfg.Projects,
		displayer: displayer,
		logger:    logger,
		commands:  make(map[string]Command),
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "memegen interactive mode")
	fmt.Fprintln(r.out, "Load an image with 'load <path>' or 'template <id>'. Type 'help' for commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	st := r.studio.State()
	prompt := fmt.Sprintf("memegen [%s]", st.Provider)
	if r.projects != nil && r.projects.HasProject() {
		prompt += " " + r.projects.Current().DisplayName()
	}
	if n := len(st.Layers); n > 0 {
		prompt += fmt.Sprintf(" (%d %s)", n, plural(n, "layer", "layers"))
	}
	fmt.Fprint(r.out, prompt+"> ")
}

// userError replaces a failed AI or template call's error with its banner.
// Details go to the debug log.
func (r *REPL) userError(err error) error {
	if banner, ok := studio.BannerFor(err); ok {
		r.logger.Debug("operation failed", "err", err)
		return errors.New(banner)
	}
	return err
}

// show renders the current meme to the terminal.
func (r *REPL) show() error {
	canvas, err := r.studio.Render()
	if err != nil {
		return err
	}
	return r.displayer.DisplayCanvas(canvas)
}

func (r *REPL) showOrWarn() {
	if err := r.show(); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
	}
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

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
