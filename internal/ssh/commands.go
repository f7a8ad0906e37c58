package ssh

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/term"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Terminal  *term.Terminal
	User      string
	SessionID string
	Args      []string
	// Raw is the command line after the command name, whitespace preserved.
	Raw string
}

// Rest returns Raw with the first n arguments removed. Use it for trailing
// free-form input (values with inner spaces, JSON documents).
func (c CommandContext) Rest(n int) string {
	s := strings.TrimLeft(c.Raw, " \t")
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			return ""
		}
		s = strings.TrimLeft(s[idx:], " \t")
	}
	return s
}

// CommandHandler processes a shell command. Returns true if the session
// should be closed (e.g., /quit).
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered shell command.
type Command struct {
	Usage   string // full usage for help (e.g., "/get <key>"); defaults to command name
	Help    string
	Handler CommandHandler
}

// CommandRegistrar is the interface for registering commands before the server starts.
type CommandRegistrar interface {
	Register(name string, cmd Command)
	RegisterBuiltins()
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use; Dispatch and HelpText may be called from
// multiple goroutines (one per SSH session).
// Once frozen (via Freeze), no new commands can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry. The name should include the leading
// slash (e.g., "/get"). Registering the same name twice overwrites the previous entry.
// Panics if cmd.Handler is nil or if the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("ssh: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("ssh: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration. Listen calls it.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
// Returns true if the session should be closed.
func (r *CommandRegistry) Dispatch(line string, base CommandContext) bool {
	line = strings.TrimSpace(line)
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := parts[0]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(base.Terminal, "Unknown command: %s (try /help)\r\n", name)
		return false
	}

	base.Args = parts[1:]
	base.Raw = strings.TrimLeft(line[len(name):], " \t")
	return cmd.Handler(base)
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-24s %s\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /whoami, /quit and /help.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/whoami", Command{
		Help: "show your user and session id",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintf(ctx.Terminal, "%s (session %s)\r\n", ctx.User, ctx.SessionID)
			return false
		},
	})

	r.Register("/quit", Command{
		Help: "disconnect",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintln(ctx.Terminal, "Goodbye.")
			return true
		},
	})

	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Terminal, r.HelpText())
			return false
		},
	})
}
