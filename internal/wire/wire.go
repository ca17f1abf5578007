// Package wire implements the line-oriented runner protocol: the
// TorXakis-style channel action and the textual codec for model actions.
package wire

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"refinery"
)

// ActionType distinguishes the direction of a channel action.
type ActionType int

const (
	// TypeInput is an action received from the runner.
	TypeInput ActionType = iota
	// TypeOutput is an action sent to the runner.
	TypeOutput
)

func (t ActionType) String() string {
	if t == TypeInput {
		return "input"
	}
	return "output"
}

// TorXakisAction is one line on a runner channel.
type TorXakisAction struct {
	Type    ActionType
	Channel string
	Data    string
}

// ParseFunc builds a model action from the tokens following its kind name.
type ParseFunc func(args []string) (refinery.ModelAction, error)

// Codec maps the leading type-name token of a wire line to a model action
// parser. Serialization is delegated to the action itself; Deserialize is
// its inverse for every registered kind.
type Codec struct {
	mu      sync.RWMutex
	parsers map[refinery.Kind]ParseFunc
}

// NewCodec creates an empty codec. The error reply kind is pre-registered
// so both directions of the wire understand it.
func NewCodec() *Codec {
	c := &Codec{parsers: make(map[refinery.Kind]ParseFunc)}
	c.parsers[refinery.KindError] = func(args []string) (refinery.ModelAction, error) {
		return refinery.ErrorAction, nil
	}
	return c
}

// Register binds a parser to a kind. Registering an empty kind or a nil
// parser fails; re-registering a kind overwrites the previous parser.
func (c *Codec) Register(kind refinery.Kind, parse ParseFunc) error {
	if kind == "" || parse == nil {
		return fmt.Errorf("register codec parser: empty kind or nil parser: %w", refinery.ErrBadArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsers[kind] = parse
	return nil
}

// RegisterFields binds a generic field-backed parser for a kind declared as
// data: one token per field, in spec order.
func (c *Codec) RegisterFields(kind refinery.Kind, spec []refinery.FieldSpec) error {
	// Probe the field layout once so malformed declarations fail at
	// registration.
	if _, err := refinery.NewGenericModelAction(kind, spec); err != nil {
		return err
	}
	return c.Register(kind, func(args []string) (refinery.ModelAction, error) {
		if len(args) != len(spec) {
			return nil, fmt.Errorf("action %q: %d field tokens, want %d: %w", kind, len(args), len(spec), refinery.ErrBadArgument)
		}
		act, err := refinery.NewGenericModelAction(kind, spec)
		if err != nil {
			return nil, err
		}
		for i, f := range spec {
			v, err := parseFieldToken(f, args[i])
			if err != nil {
				return nil, fmt.Errorf("action %q field %q: %w", kind, f.Name, err)
			}
			if err := act.SetField(f.Name, v); err != nil {
				return nil, err
			}
		}
		return act, nil
	})
}

// Kinds returns the registered kinds, including the built-in error reply.
func (c *Codec) Kinds() []refinery.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]refinery.Kind, 0, len(c.parsers))
	for k := range c.parsers {
		out = append(out, k)
	}
	return out
}

// Serialize renders a model action to its wire line.
func (c *Codec) Serialize(m refinery.ModelAction) (string, error) {
	if m == nil {
		return "", fmt.Errorf("serialize: nil action: %w", refinery.ErrBadArgument)
	}
	return m.Serialize(), nil
}

// Deserialize recovers a model action from a wire line by parsing the
// leading type-name token and delegating to the registered parser.
func (c *Codec) Deserialize(line string) (refinery.ModelAction, error) {
	tokens, err := splitTokens(line)
	if err != nil {
		return nil, fmt.Errorf("deserialize %q: %w", line, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("deserialize: empty line: %w", refinery.ErrBadArgument)
	}
	kind := refinery.Kind(tokens[0])
	c.mu.RLock()
	parse, ok := c.parsers[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("deserialize: unknown action kind %q: %w", kind, refinery.ErrBadArgument)
	}
	return parse(tokens[1:])
}

func parseFieldToken(f refinery.FieldSpec, token string) (refinery.Value, error) {
	switch f.Type {
	case refinery.TypeBool:
		b, err := strconv.ParseBool(token)
		if err != nil {
			return refinery.Value{}, fmt.Errorf("parse bool %q: %w", token, refinery.ErrBadArgument)
		}
		return refinery.BoolValue(b), nil
	case refinery.TypeInt:
		i, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return refinery.Value{}, fmt.Errorf("parse int %q: %w", token, refinery.ErrBadArgument)
		}
		return refinery.IntValue(i), nil
	case refinery.TypeString:
		s, err := strconv.Unquote(token)
		if err != nil {
			return refinery.Value{}, fmt.Errorf("parse string %q: %w", token, refinery.ErrBadArgument)
		}
		return refinery.StringValue(s), nil
	default:
		return refinery.Value{}, fmt.Errorf("field %q has unsupported type: %w", f.Name, refinery.ErrBadArgument)
	}
}

// splitTokens splits a wire line on spaces, keeping quoted string tokens
// (including their quotes) intact.
func splitTokens(line string) ([]string, error) {
	var tokens []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		if rest[0] == '"' {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, fmt.Errorf("unterminated quote: %w", refinery.ErrBadArgument)
			}
			tokens = append(tokens, quoted)
			rest = strings.TrimLeft(rest[len(quoted):], " ")
			continue
		}
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			tokens = append(tokens, rest)
			break
		}
		tokens = append(tokens, rest[:end])
		rest = strings.TrimLeft(rest[end:], " ")
	}
	return tokens, nil
}
