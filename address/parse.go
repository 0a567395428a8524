package address

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError describes why an address string was rejected.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid simulator address %q: %s", e.Input, e.Reason)
}

// LevelError is returned by ParseAtLevel when a well-formed address has
// the wrong level.
type LevelError struct {
	Input    string
	Expected Level
	Actual   Level
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("address %q is not a valid %s address, it's a %s address",
		e.Input, e.Expected, e.Actual)
}

// Parse decodes the text form produced by Address.String. Tokens are
// separated by '_' and must appear in level order, each starting with
// its level tag. The coordinator token may carry digits ("C1"); there
// is a single coordinator so they are accepted and dropped.
func Parse(text string) (Address, error) {
	if text == "" {
		return Address{}, &ParseError{Input: text, Reason: "empty address"}
	}

	tokens := strings.Split(text, "_")
	if len(tokens) > len(levelTags) {
		return Address{}, &ParseError{Input: text, Reason: fmt.Sprintf("more than %d levels", len(levelTags))}
	}

	head := tokens[0]
	if head == "" || head[0] != levelTags[LevelCoordinator] {
		return Address{}, &ParseError{Input: text, Reason: "address must start with C"}
	}
	if rest := head[1:]; rest != "" {
		if rest == "*" {
			return Address{}, &ParseError{Input: text, Reason: "wildcard is not allowed for the coordinator"}
		}
		if _, err := parseIndex(rest); err != nil {
			return Address{}, &ParseError{Input: text, Reason: "coordinator: " + err.Error()}
		}
	}

	var components [3]Component
	for i := 1; i < len(tokens); i++ {
		token := tokens[i]
		level := Level(i)
		if token == "" || token[0] != levelTags[level] {
			return Address{}, &ParseError{
				Input:  text,
				Reason: fmt.Sprintf("expected %c tag for %s level at position %d", levelTags[level], level, i+1),
			}
		}
		value := token[1:]
		if value == "*" {
			components[i-1] = Any
			continue
		}
		index, err := parseIndex(value)
		if err != nil {
			return Address{}, &ParseError{Input: text, Reason: fmt.Sprintf("%s: %v", level, err)}
		}
		components[i-1] = Index(index)
	}

	return Address{agent: components[0], worker: components[1], test: components[2]}, nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAtLevel parses text and checks that the result has the expected
// level, e.g. that a user supplied agent address is not a worker address.
func ParseAtLevel(text string, expected Level) (Address, error) {
	a, err := Parse(text)
	if err != nil {
		return Address{}, err
	}
	if a.Level() != expected {
		return Address{}, &LevelError{Input: text, Expected: expected, Actual: a.Level()}
	}
	return a, nil
}

// parseIndex accepts only plain decimal digits; strconv.Atoi alone would
// let "+1" and "-1" through.
func parseIndex(value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("missing value")
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, fmt.Errorf("%q is not a number or *", value)
		}
	}
	index, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%q is out of range", value)
	}
	if index == 0 {
		return 0, fmt.Errorf("index must be positive")
	}
	return index, nil
}
