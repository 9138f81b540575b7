package asset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("asset: unsupported resource scheme")
	ErrFetchFailed       = errors.New("asset: could not fetch remote resource")
	ErrSyntax            = errors.New("unsupported syntax")
)

// A scene file error annotated with its location and the chain of
// statements that included the file.
type ParseError struct {
	File string

	// 1-based line number or 0 for errors that apply to the whole file.
	Line int

	// Include sites, innermost first.
	IncludedFrom []string

	Err error
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("wavefront: ")
	if e.Line > 0 {
		fmt.Fprintf(&sb, "[%s: %d] ", e.File, e.Line)
	} else {
		fmt.Fprintf(&sb, "[%s] ", e.File)
	}
	sb.WriteString(e.Err.Error())
	for _, site := range e.IncludedFrom {
		sb.WriteString("\n  included from ")
		sb.WriteString(site)
	}
	return sb.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func syntaxError(keyword, expected string, got int) error {
	return fmt.Errorf("%w for %q; expected %s; got %d", ErrSyntax, keyword, expected, got)
}
