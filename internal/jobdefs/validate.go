package jobdefs

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

// docIDPattern matches a CDR document id, with or without the CDR
// prefix and zero padding ("CDR0000012345" or "12345").
var docIDPattern = regexp.MustCompile(`^(CDR)?\d{1,10}$`)

// ValidateArgs checks submitted values against the definition's arg
// specs and returns the canonical ordered argument list. Values for
// undeclared names are rejected, as are missing required values.
func (d Definition) ValidateArgs(values map[string]string) ([]domain.Arg, error) {
	declared := make(map[string]bool, len(d.Args))
	var args []domain.Arg

	for _, spec := range d.Args {
		declared[spec.Name] = true
		raw, ok := values[spec.Name]
		if !ok || raw == "" {
			if spec.Required {
				return nil, fmt.Errorf("argument %q is required", spec.Name)
			}
			continue
		}
		canonical, err := spec.check(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", spec.Name, err)
		}
		args = append(args, domain.Arg{Name: spec.Name, Value: canonical})
	}

	for name := range values {
		if !declared[name] {
			return nil, fmt.Errorf("unknown argument %q", name)
		}
	}
	return args, nil
}

// check validates one raw value and returns its canonical form.
func (s ArgSpec) check(raw string) (string, error) {
	switch s.Type {
	case ArgDate:
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return "", fmt.Errorf("expected YYYY-MM-DD date, got %q", raw)
		}
		return t.Format("2006-01-02"), nil

	case ArgEnum:
		for _, allowed := range s.Enum {
			if raw == allowed {
				return raw, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %s", raw, strings.Join(s.Enum, ", "))

	case ArgInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("expected integer, got %q", raw)
		}
		if n < s.Min {
			return "", fmt.Errorf("%d is below minimum %d", n, s.Min)
		}
		if s.Max != 0 && n > s.Max {
			return "", fmt.Errorf("%d exceeds maximum %d", n, s.Max)
		}
		return strconv.Itoa(n), nil

	case ArgEmailList:
		addrs, err := ParseEmailList(raw)
		if err != nil {
			return "", err
		}
		return strings.Join(addrs, " "), nil

	case ArgDocID:
		if !docIDPattern.MatchString(raw) {
			return "", fmt.Errorf("%q is not a document id", raw)
		}
		return strings.TrimLeft(strings.TrimPrefix(raw, "CDR"), "0"), nil

	case ArgText:
		return raw, nil
	}
	return "", fmt.Errorf("unknown argument type %q", s.Type)
}

// ParseEmailList splits a whitespace-separated address list and
// validates every entry. At least one address is required.
func ParseEmailList(raw string) ([]string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one email address is required")
	}
	for _, f := range fields {
		if _, err := mail.ParseAddress(f); err != nil {
			return nil, fmt.Errorf("invalid email address %q", f)
		}
	}
	return fields, nil
}
