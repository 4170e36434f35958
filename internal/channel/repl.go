package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"skillrun/internal/dispatch"
	"skillrun/internal/domain"
)

// REPL is an interactive terminal front end. The whole run is one dispatch
// session: repeating a call with the same arguments replays the recorded
// result until /reset.
type REPL struct {
	factory    *dispatch.Factory
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	in         io.Reader
	out        io.Writer
}

type REPLConfig struct {
	Factory *dispatch.Factory
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewREPL(cfg REPLConfig) *REPL {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &REPL{
		factory:    cfg.Factory,
		dispatcher: cfg.Factory.ForSession("repl"),
		logger:     cfg.Logger,
		in:         cfg.In,
		out:        cfg.Out,
	}
}

func (r *REPL) Name() string { return "repl" }

// Start runs the REPL and blocks until EOF, /quit, or ctx cancellation.
func (r *REPL) Start(ctx context.Context) error {
	fmt.Fprintln(r.out, "skillrun interactive session. Type a skill name followed by JSON arguments.")
	fmt.Fprintln(r.out, "Commands: /skills  /reset  /quit")
	fmt.Fprint(r.out, "> ")

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(r.out, "> ")
			continue
		}

		switch {
		case line == "/quit" || line == "/exit" || line == "/q":
			return nil
		case line == "/skills":
			r.printSkills()
		case line == "/reset":
			r.dispatcher = r.factory.ForSession("repl")
			fmt.Fprintln(r.out, "session cleared")
		default:
			r.runLine(ctx, line)
		}
		fmt.Fprint(r.out, "> ")
	}
}

func (r *REPL) printSkills() {
	for _, d := range r.factory.Registry().Definitions() {
		fmt.Fprintf(r.out, "%-16s %s\n", d.Name, d.Description)
	}
}

// runLine parses "<skill> [<json-args>]" and dispatches it.
func (r *REPL) runLine(ctx context.Context, line string) {
	name := line
	argsJSON := ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		name = line[:i]
		argsJSON = strings.TrimSpace(line[i+1:])
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			fmt.Fprintf(r.out, "arguments must be a JSON object: %v\n", err)
			return
		}
	}

	out := r.dispatcher.Dispatch(ctx, domain.CallRequest{
		Skill:     name,
		Arguments: args,
		OnProgress: func(note string) {
			fmt.Fprintf(r.out, "... %s\n", note)
		},
	})

	if !out.OK {
		fmt.Fprintf(r.out, "error (%s): %s\n", out.Kind(), out.Failure.Message)
		return
	}
	if out.CacheHit {
		fmt.Fprintln(r.out, "(recorded result)")
	}
	fmt.Fprintln(r.out, out.Text)
}
