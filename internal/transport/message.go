package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/dispatch"
)

// KindUnknownCommand is reported when neither the dispatcher nor the
// connection-level commands know the command ID.
const KindUnknownCommand = "unknown_command"

type reply struct {
	ID      any         `json:"id,omitempty"`
	Command string      `json:"command"`
	Result  any         `json:"result,omitempty"`
	Error   *replyError `json:"error,omitempty"`
}

type replyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// builtin handles a connection-level command the dispatcher does not own.
type builtin func(s *Server, raw map[string]any) (any, error)

var builtins = map[string]builtin{
	"ping": func(*Server, map[string]any) (any, error) {
		return map[string]any{"pong": true}, nil
	},
	"commands": func(s *Server, raw map[string]any) (any, error) {
		service, _ := raw["service"].(string)
		return map[string]any{"commands": s.dispatcher.Commands(service)}, nil
	},
}

// parseEnvelope splits an inbound frame into correlation ID, command ID and
// the remaining parameters.
func parseEnvelope(data []byte) (id any, command string, params map[string]any, err error) {
	if err := json.Unmarshal(data, &params); err != nil || params == nil {
		return nil, "", nil, fmt.Errorf("%w: message must be a JSON object", apperr.ErrInvalidArgument)
	}

	id = params["id"]
	delete(params, "id")

	rawCommand, ok := params["command"]
	if !ok {
		return id, "", nil, fmt.Errorf("%w: command", apperr.ErrMissingParameter)
	}
	command, ok = rawCommand.(string)
	if !ok {
		return id, "", nil, fmt.Errorf("%w: command must be a string", apperr.ErrTypeMismatch)
	}
	delete(params, "command")
	return id, command, params, nil
}

// handleMessage processes one inbound frame and queues the reply. Panics
// are turned into an internal error reply.
func (s *Server) handleMessage(ctx context.Context, c *Conn, data []byte) {
	var (
		id      any
		command string
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("conn", c.id).Str("command", command).Msg("Message handler panicked")
			s.reply(c, reply{ID: id, Command: command, Error: &replyError{
				Kind:    apperr.KindInternal,
				Message: fmt.Sprintf("panic: %v", r),
			}})
		}
	}()

	id, command, params, err := parseEnvelope(data)
	if err != nil {
		s.reply(c, errorReply(id, command, err))
		return
	}

	result, err := s.dispatcher.Dispatch(ctx, c, command, params)
	if dispatch.IsUnknownCommand(err) {
		// soft miss: try connection-level commands before giving up
		if fn, ok := builtins[command]; ok {
			result, err := fn(s, params)
			if err != nil {
				s.reply(c, errorReply(id, command, err))
				return
			}
			s.reply(c, reply{ID: id, Command: command, Result: result})
			return
		}
	}
	if err != nil {
		s.reply(c, errorReply(id, command, err))
		return
	}

	s.reply(c, reply{ID: id, Command: command, Result: result})
}

func errorReply(id any, command string, err error) reply {
	kind := apperr.Kind(err)
	if dispatch.IsUnknownCommand(err) {
		kind = KindUnknownCommand
	}

	ev := log.Debug()
	if kind == apperr.KindInternal || kind == apperr.KindBackendUnavailable {
		ev = log.Warn()
	}
	ev.Err(err).Str("command", command).Str("kind", kind).Msg("Command failed")

	return reply{ID: id, Command: command, Error: &replyError{Kind: kind, Message: err.Error()}}
}

func (s *Server) reply(c *Conn, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("command", r.Command).Msg("Failed to encode reply")
		data, _ = json.Marshal(errorReply(r.ID, r.Command, fmt.Errorf("encode result: %w", err)))
	}
	if err := c.enqueue(data); err != nil && !errors.Is(err, ErrConnClosed) {
		log.Warn().Err(err).Str("conn", c.id).Str("command", r.Command).Msg("Failed to queue reply")
	}
}
