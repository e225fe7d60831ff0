package errors

import (
	"fmt"
	"strings"
)

// Stage indicates which pipeline stage produced the error.
type Stage string

const (
	StageLoad      Stage = "load"      // binary parsing
	StageOptimize  Stage = "optimize"  // size reduction passes
	StageValidate  Stage = "validate"  // execution-environment rules
	StageMetadata  Stage = "metadata"  // interface extraction and encoding
	StageCache     Stage = "cache"     // content-addressed cache
	StagePackage   Stage = "package"   // bundle assembly
	StageToolchain Stage = "toolchain" // external compiler invocation
	StageSubmit    Stage = "submit"    // optional deployment boundary
	StageConfig    Stage = "config"    // configuration loading
)

// Kind categorizes the error.
type Kind string

const (
	KindMalformedBinary     Kind = "malformed_binary"
	KindOptimization        Kind = "optimization"
	KindValidation          Kind = "validation"
	KindIncompleteInterface Kind = "incomplete_interface"
	KindCacheIO             Kind = "cache_io"
	KindToolchainTransient  Kind = "toolchain_transient"
	KindPackaging           Kind = "packaging"
	KindInvalidInput        Kind = "invalid_input"
)

// Error is the structured error type used throughout the pipeline.
type Error struct {
	Cause    error
	Stage    Stage
	Kind     Kind
	Rule     string // validator rule name, e.g. "no-float"
	Section  string // binary section, e.g. "import section"
	Location string // where in the module, e.g. "code[3] offset 0x1f"
	Detail   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Stage))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Rule != "" {
		b.WriteString(" rule ")
		b.WriteString(e.Rule)
	}
	if e.Section != "" {
		b.WriteString(" in ")
		b.WriteString(e.Section)
	}
	if e.Location != "" {
		b.WriteString(" at ")
		b.WriteString(e.Location)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Zero fields on the target act
// as wildcards, so errors.Is(err, &Error{Kind: KindValidation}) matches any
// validation failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Stage != "" && e.Stage != t.Stage {
		return false
	}
	if t.Kind != "" && e.Kind != t.Kind {
		return false
	}
	if t.Rule != "" && e.Rule != t.Rule {
		return false
	}
	return true
}

// Recoverable reports whether the pipeline may proceed after this error.
// Only cache I/O failures are recoverable: the build runs uncached.
func (e *Error) Recoverable() bool {
	return e.Kind == KindCacheIO
}

// Transient reports whether the failed operation may be retried once.
func (e *Error) Transient() bool {
	return e.Kind == KindToolchainTransient
}

// Convenience constructors, one per taxonomy member.

// MalformedBinary reports an unparseable input binary. Fatal, no retry.
func MalformedBinary(section string, offset int, cause error) *Error {
	return &Error{
		Stage:    StageLoad,
		Kind:     KindMalformedBinary,
		Section:  section,
		Location: fmt.Sprintf("offset %d", offset),
		Cause:    cause,
	}
}

// Optimization reports an index-consistency failure during compaction. Fatal.
func Optimization(pass string, cause error) *Error {
	return &Error{
		Stage:  StageOptimize,
		Kind:   KindOptimization,
		Detail: fmt.Sprintf("pass %s", pass),
		Cause:  cause,
	}
}

// Validation reports a violated execution-environment rule. Fatal; surfaced
// verbatim so the contract author can fix it at the source level.
func Validation(rule, location, detail string) *Error {
	return &Error{
		Stage:    StageValidate,
		Kind:     KindValidation,
		Rule:     rule,
		Location: location,
		Detail:   detail,
	}
}

// IncompleteInterface reports that metadata extraction could not resolve an
// entry point's shape. Fatal.
func IncompleteInterface(what, detail string) *Error {
	return &Error{
		Stage:    StageMetadata,
		Kind:     KindIncompleteInterface,
		Location: what,
		Detail:   detail,
	}
}

// CacheIO reports an unavailable cache storage layer. Recoverable: the
// pipeline proceeds without caching.
func CacheIO(op string, cause error) *Error {
	return &Error{
		Stage:  StageCache,
		Kind:   KindCacheIO,
		Detail: op,
		Cause:  cause,
	}
}

// ToolchainTransient reports an external compiler failure that may be retried
// once before becoming fatal.
func ToolchainTransient(detail string, cause error) *Error {
	return &Error{
		Stage:  StageToolchain,
		Kind:   KindToolchainTransient,
		Detail: detail,
		Cause:  cause,
	}
}

// Packaging reports a bundle assembly failure. Fatal; no partial bundle is
// ever written.
func Packaging(detail string, cause error) *Error {
	return &Error{
		Stage:  StagePackage,
		Kind:   KindPackaging,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidInput reports malformed caller-supplied input outside the binary
// itself, e.g. an unreadable introspection artifact.
func InvalidInput(stage Stage, detail string, cause error) *Error {
	return &Error{
		Stage:  stage,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}
