// Package dispatch validates inbound commands against registered
// descriptors, invokes their handlers and fans broadcasts out to
// subscribed connections.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	command string
	args    Args
	handles map[string]Subscriber
}

// Dispatcher routes commands to handlers and tracks subscriptions.
type Dispatcher struct {
	*Registry

	mu       sync.Mutex
	subs     map[string]*subscription
	byHandle map[string]map[string]struct{}
}

// New creates a dispatcher with an empty registry.
func New() *Dispatcher {
	return &Dispatcher{
		Registry: NewRegistry(),
		subs:     make(map[string]*subscription),
		byHandle: make(map[string]map[string]struct{}),
	}
}

func subscriptionKey(command string, args Args) string {
	return command + "|" + args.Key()
}

// Dispatch validates raw against the command's parameters and invokes its
// handler. A successful call to a subscribable command also subscribes sub
// to broadcasts for (commandID, args). sub may be nil for internal callers.
func (d *Dispatcher) Dispatch(ctx context.Context, sub Subscriber, commandID string, raw map[string]any) (Result, error) {
	cmd, ok := d.Get(commandID)
	if !ok {
		log.Debug().Str("command", commandID).Msg("Unknown command")
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, commandID)
	}

	args, err := bind(cmd.Params, raw)
	if err != nil {
		return nil, err
	}

	result, err := invoke(ctx, cmd, args)
	if err != nil {
		return nil, err
	}

	if cmd.Subscribable && sub != nil {
		d.subscribe(cmd.ID, args, sub)
	}
	return result, nil
}

func invoke(ctx context.Context, cmd Command, args Args) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("command", cmd.ID).Interface("panic", r).Msg("Command handler panicked")
			err = fmt.Errorf("command %q panicked: %v", cmd.ID, r)
		}
	}()
	return cmd.Handler(ctx, args)
}

func (d *Dispatcher) subscribe(command string, args Args, sub Subscriber) {
	key := subscriptionKey(command, args)

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.subs[key]
	if !ok {
		s = &subscription{command: command, args: args, handles: make(map[string]Subscriber)}
		d.subs[key] = s
		log.Debug().Str("command", command).Str("key", args.Key()).Msg("Subscription created")
	}
	s.handles[sub.ID()] = sub

	keys, ok := d.byHandle[sub.ID()]
	if !ok {
		keys = make(map[string]struct{})
		d.byHandle[sub.ID()] = keys
	}
	keys[key] = struct{}{}
}

// Distribute sends msg to every handle subscribed to exactly (commandID, args)
// and returns how many sends succeeded. A failing handle does not affect the
// others.
func (d *Dispatcher) Distribute(ctx context.Context, commandID string, args Args, msg Message) int {
	d.mu.Lock()
	s, ok := d.subs[subscriptionKey(commandID, args)]
	var targets []Subscriber
	if ok {
		targets = make([]Subscriber, 0, len(s.handles))
		for _, h := range s.handles {
			targets = append(targets, h)
		}
	}
	d.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}

	out := make(Message, len(msg)+1)
	for k, v := range msg {
		out[k] = v
	}
	out["command"] = commandID

	var (
		wg        sync.WaitGroup
		delivered int
		countMu   sync.Mutex
	)
	for _, h := range targets {
		wg.Add(1)
		go func(h Subscriber) {
			defer wg.Done()
			if err := h.Send(ctx, out); err != nil {
				log.Warn().Err(err).Str("handle", h.ID()).Str("command", commandID).Msg("Failed to deliver broadcast")
				return
			}
			countMu.Lock()
			delivered++
			countMu.Unlock()
		}(h)
	}
	wg.Wait()
	return delivered
}

// Disconnect drops sub from every subscription. A subscription left without
// handles is reaped; the next subscriber to its key creates it afresh.
func (d *Dispatcher) Disconnect(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := sub.ID()
	for key := range d.byHandle[id] {
		s, ok := d.subs[key]
		if !ok {
			continue
		}
		delete(s.handles, id)
		if len(s.handles) == 0 {
			delete(d.subs, key)
			log.Debug().Str("command", s.command).Str("key", s.args.Key()).Msg("Subscription reaped")
		}
	}
	delete(d.byHandle, id)
}

// Subscriptions returns the number of subscriptions with at least one handle.
func (d *Dispatcher) Subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, s := range d.subs {
		if len(s.handles) > 0 {
			n++
		}
	}
	return n
}

// Subscribers returns the number of handles subscribed to (commandID, args).
func (d *Dispatcher) Subscribers(commandID string, args Args) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.subs[subscriptionKey(commandID, args)]; ok {
		return len(s.handles)
	}
	return 0
}

// Commands lists registered descriptors for service, or all of them.
func (d *Dispatcher) Commands(service string) []Command {
	return d.List(service)
}

// IsUnknownCommand reports whether err came from an unregistered command ID.
func IsUnknownCommand(err error) bool {
	return errors.Is(err, ErrUnknownCommand)
}
