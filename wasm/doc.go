// Package wasm provides parsing, inspection, and serialization of the
// WebAssembly binaries accepted by the contracts execution environment.
//
// The supported profile is core WASM MVP plus sign extension, saturating
// truncation, reference types, and bulk memory. Proposals the environment
// can never accept (GC types, SIMD, threads, exception handling, memory64,
// tail calls) are rejected at parse time so that every later pipeline stage
// works with dense, single-space indices.
//
// Floating point instructions and value types ARE parsed: the validator is
// responsible for rejecting them with a rule name and location the contract
// author can act on. Rejecting them here would swallow that diagnostic.
//
// Serialization is deterministic: a Module always encodes to the same bytes,
// and for bytes produced by Encode, ParseModule followed by Encode is the
// identity. This property is what makes downstream content addressing and
// on-chain code hashes stable.
package wasm
