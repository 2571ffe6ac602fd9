package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreviewLimit caps the number of characters of a raw command quoted in errors and logs.
const PreviewLimit = 100

// Level-bearing keys, in lookup priority order.
var levelKeys = []string{"vibrate", "speed", "Speed"}

var (
	// ErrDecode marks inbound bytes that are not a JSON object.
	ErrDecode = errors.New("invalid command")

	// ErrMissingLevel is returned by Command.Level when no level-bearing key is present.
	ErrMissingLevel = errors.New("no speed-bearing field")

	// ErrInvalidLevel is returned by Command.Level when the value cannot be read as an integer.
	// Such commands produce no packet rather than a level 0 frame.
	ErrInvalidLevel = errors.New("level is not an integer")
)

// DecodeError describes a raw buffer that could not be decoded into a Command.
type DecodeError struct {
	Preview string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v %q: %v", ErrDecode, e.Preview, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes every DecodeError match ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Preview returns at most PreviewLimit characters of raw, for diagnostics.
func Preview(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "�")
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewLimit]) + "..."
}

// Command is a validated JSON object received from a port writer.
type Command struct {
	fields map[string]any
}

// NewCommand wraps an already decoded field map. Numbers may be json.Number or any Go numeric type.
func NewCommand(fields map[string]any) Command {
	if fields == nil {
		fields = map[string]any{}
	}
	return Command{fields: fields}
}

// DecodeCommand parses raw as a single UTF-8 JSON object.
func DecodeCommand(raw []byte) (Command, error) {
	if !utf8.Valid(raw) {
		return Command{}, &DecodeError{Preview: Preview(raw), Err: errors.New("not valid UTF-8")}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Command{}, &DecodeError{Preview: Preview(raw), Err: err}
	}
	if fields == nil {
		return Command{}, &DecodeError{Preview: Preview(raw), Err: errors.New("not a JSON object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Command{}, &DecodeError{Preview: Preview(raw), Err: errors.New("trailing data after JSON object")}
	}

	return Command{fields: fields}, nil
}

// Field returns the raw decoded value for key.
func (c Command) Field(key string) (any, bool) {
	v, ok := c.fields[key]
	return v, ok
}

// Fields returns a shallow copy of the decoded object.
func (c Command) Fields() map[string]any {
	out := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// RoutingID returns the application-supplied device key, or "" when the command carries none.
// Empty strings, zero and non-scalar values count as absent.
func (c Command) RoutingID() string {
	switch v := c.fields["id"].(type) {
	case string:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil && f == 0 {
			return ""
		}
		return v.String()
	case float64:
		if v == 0 {
			return ""
		}
		return fmt.Sprint(v)
	case int:
		if v == 0 {
			return ""
		}
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Level returns the requested intensity as an unclamped integer.
// The first present, non-null key among vibrate, speed and Speed wins.
func (c Command) Level() (int, error) {
	for _, key := range levelKeys {
		v, ok := c.fields[key]
		if !ok || v == nil {
			continue
		}
		level, err := toInt(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%v", ErrInvalidLevel, key, v)
		}
		return level, nil
	}
	return 0, ErrMissingLevel
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return saturate(float64(i)), nil
		}
		f, err := n.Float64()
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, ErrInvalidLevel
		}
		if math.IsNaN(f) {
			return 0, ErrInvalidLevel
		}
		return saturate(math.Trunc(f)), nil
	case string:
		return parseLeadingInt(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, ErrInvalidLevel
		}
		return saturate(math.Trunc(n)), nil
	case int:
		return n, nil
	case int64:
		return saturate(float64(n)), nil
	default:
		return 0, ErrInvalidLevel
	}
}

// parseLeadingInt reads an optional sign and the leading decimal digits of s,
// ignoring anything after them: "42abc" is 42, "12.7" is 12.
func parseLeadingInt(s string) (int, error) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	digits := 0
	var acc float64
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		acc = acc*10 + float64(s[digits]-'0')
		digits++
	}
	if digits == 0 {
		return 0, ErrInvalidLevel
	}
	if neg {
		acc = -acc
	}
	return saturate(acc), nil
}

func saturate(f float64) int {
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	default:
		return int(f)
	}
}
