package query

import (
	"errors"
	"fmt"
)

// Sentinel errors for query translation
var (
	// ErrSyntax is returned when the query text cannot be parsed
	ErrSyntax = errors.New("query syntax error")

	// ErrSemantic is returned when a parsed query does not fit the mapping
	ErrSemantic = errors.New("invalid query")
)

// SyntaxError locates a parse failure in the query text
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at position %d: %s", ErrSyntax, e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// IsSyntax checks if an error is ErrSyntax
func IsSyntax(err error) bool {
	return errors.Is(err, ErrSyntax)
}

// IsSemantic checks if an error is ErrSemantic
func IsSemantic(err error) bool {
	return errors.Is(err, ErrSemantic)
}

func semanticf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSemantic, fmt.Sprintf(format, args...))
}
