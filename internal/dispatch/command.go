package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dokzlo13/panelhub/internal/apperr"
)

// Result is the payload a handler returns to the caller.
type Result map[string]any

// Message is a broadcast payload delivered to subscribers.
type Message map[string]any

// HandlerFunc executes a command with validated positional arguments.
type HandlerFunc func(ctx context.Context, args Args) (Result, error)

// Param declares one command parameter.
type Param struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// Command describes a registered command.
type Command struct {
	ID           string      `json:"id"`
	Service      string      `json:"service"`
	Description  string      `json:"description,omitempty"`
	Params       []Param     `json:"params"`
	Subscribable bool        `json:"subscribable"`
	Handler      HandlerFunc `json:"-"`
}

// Subscriber is a connection that can receive broadcasts.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg Message) error
}

// ErrUnknownCommand is returned for command IDs with no registration.
var ErrUnknownCommand = fmt.Errorf("unknown command: %w", apperr.ErrNotFound)

// ParamError reports a parameter that failed validation.
type ParamError struct {
	Kind     error
	Param    string
	Expected Type
	Actual   string
}

func (e *ParamError) Error() string {
	if e.Kind == apperr.ErrTypeMismatch {
		return fmt.Sprintf("parameter %q: expected %s, got %s", e.Param, e.Expected, e.Actual)
	}
	return fmt.Sprintf("parameter %q is required", e.Param)
}

func (e *ParamError) Unwrap() error { return e.Kind }

// Registry holds all registered commands
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty command registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// Register stores cmd, replacing any command with the same ID.
func (r *Registry) Register(cmd Command) error {
	if cmd.ID == "" {
		return fmt.Errorf("command id is empty")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", cmd.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.ID] = cmd
	return nil
}

// Unregister removes a command. Unknown IDs are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, id)
}

// Get retrieves a command by ID
func (r *Registry) Get(id string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// List returns descriptors sorted by ID. An empty service lists all.
func (r *Registry) List(service string) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		if service == "" || cmd.Service == service {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// bind validates raw parameters against the declared list.
func bind(params []Param, raw map[string]any) (Args, error) {
	args := make(Args, 0, len(params))
	for _, p := range params {
		rv, present := raw[p.Name]
		if !present {
			if p.Optional {
				break
			}
			return nil, &ParamError{Kind: apperr.ErrMissingParameter, Param: p.Name, Expected: p.Type}
		}

		v, ok := Lift(rv)
		if !ok || v.Type() != p.Type {
			return nil, &ParamError{Kind: apperr.ErrTypeMismatch, Param: p.Name, Expected: p.Type, Actual: describe(rv)}
		}
		args = append(args, v)
	}
	return args, nil
}
