// Package errors provides structured error types for the contract build pipeline.
//
// Errors are categorized by Stage (which pipeline stage failed) and Kind
// (error category). The Error type carries the context a contract author
// needs to fix the problem at the source level: the violated rule, the
// binary section or code location, and the cause chain.
//
//	err := errors.Validation("no-float", "code[3] offset 0x1f", "f64.mul is not deterministic")
//	err := errors.MalformedBinary("import section", 142, cause)
//
// Fatal errors terminate the build; recoverable kinds (cache I/O) let the
// pipeline proceed degraded, and transient kinds (toolchain) permit one
// retry. All errors implement the standard error interface and support
// errors.Is/As.
package errors
