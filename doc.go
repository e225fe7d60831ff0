// Package cargocontract is the post-compilation build pipeline for WASM
// smart contracts targeting pallet-contracts style execution environments.
//
// The external compiler produces a raw wasm binary plus an introspection
// document; this module turns those into a deployable bundle:
//
//	cargo-contract/
//	├── wasm/        WASM binary decoding, encoding, and structural checks
//	├── optimizer/   size reduction: strip, dead code, compaction, peephole
//	├── validator/   execution-environment acceptance rules
//	├── metadata/    interface extraction and binary/JSON encoding
//	├── cache/       content-addressed store for finished builds
//	├── bundle/      deterministic archive packaging
//	├── pipeline/    build orchestration and caching
//	├── toolchain/   external compiler invocation
//	├── deploy/      submission boundary (interface only, no network code)
//	├── config/      contract.yaml loading with defaults
//	├── errors/      stage-tagged structured errors
//	└── cmd/contract the CLI
//
// Everything downstream of the compiler is deterministic: identical inputs
// produce byte-identical bundles, which is what makes the cache sound and
// on-chain code hashes reproducible.
package cargocontract
