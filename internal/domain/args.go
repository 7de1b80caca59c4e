package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Arg is one named parameter passed to a job command. Order is
// significant and preserved through the store round trip.
type Arg struct {
	Name  string
	Value string
}

// EncodeArgs serializes ordered (name, value) pairs into the canonical
// text form persisted in the job store: one percent-escaped name=value
// pair per line.
func EncodeArgs(args []Arg) string {
	if len(args) == 0 {
		return ""
	}
	lines := make([]string, len(args))
	for i, a := range args {
		lines[i] = url.QueryEscape(a.Name) + "=" + url.QueryEscape(a.Value)
	}
	return strings.Join(lines, "\n")
}

// DecodeArgs parses the canonical serialization produced by EncodeArgs.
func DecodeArgs(s string) ([]Arg, error) {
	if s == "" {
		return nil, nil
	}
	var args []Arg
	for _, line := range strings.Split(s, "\n") {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed arg line %q", line)
		}
		n, err := url.QueryUnescape(name)
		if err != nil {
			return nil, fmt.Errorf("arg name %q: %w", name, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("arg value %q: %w", value, err)
		}
		args = append(args, Arg{Name: n, Value: v})
	}
	return args, nil
}
