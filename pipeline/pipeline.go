// Package pipeline orchestrates a contract build: compile, load, optimize,
// validate, extract metadata, and package, with a content-addressed cache in
// front of the whole chain.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MaciejBaj/cargo-contract/bundle"
	"github.com/MaciejBaj/cargo-contract/cache"
	"github.com/MaciejBaj/cargo-contract/config"
	"github.com/MaciejBaj/cargo-contract/errors"
	"github.com/MaciejBaj/cargo-contract/metadata"
	"github.com/MaciejBaj/cargo-contract/optimizer"
	"github.com/MaciejBaj/cargo-contract/validator"
	"github.com/MaciejBaj/cargo-contract/wasm"
)

// State is how far a build progressed.
type State int

const (
	StateStart State = iota
	StateLoaded
	StateOptimized
	StateValidated
	StateMetadataReady
	StatePackaged
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateLoaded:
		return "loaded"
	case StateOptimized:
		return "optimized"
	case StateValidated:
		return "validated"
	case StateMetadataReady:
		return "metadata-ready"
	case StatePackaged:
		return "packaged"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Mode selects where the pipeline stops.
type Mode int

const (
	// ModeBuild runs the full pipeline through packaging.
	ModeBuild Mode = iota
	// ModeCheck stops after validation; no metadata, no bundle.
	ModeCheck
	// ModeMetadata extracts and encodes metadata only.
	ModeMetadata
)

// RawArtifact is the external compiler's output: the unoptimized binary and
// the introspection document describing the contract's interface.
type RawArtifact struct {
	Wasm          []byte
	Introspection []byte
}

// Toolchain invokes the external contract compiler.
type Toolchain interface {
	// Version identifies the compiler; it participates in the cache key.
	Version(ctx context.Context) (string, error)
	// Compile builds the contract at contractDir, using workDir for
	// intermediate files.
	Compile(ctx context.Context, contractDir, workDir string) (*RawArtifact, error)
}

// Request describes one build.
type Request struct {
	ContractDir string
	OutputPath  string // bundle destination; empty keeps the bundle in memory
	Mode        Mode
	NoCache     bool
	// BuildID is assigned deterministically from the cache key when empty,
	// so identical inputs produce identical bundles.
	BuildID string
}

// Result is a completed build.
type Result struct {
	State     State
	CacheHit  bool
	BuildID   string
	Stats     optimizer.Stats
	Artifact  *validator.Artifact
	Interface *metadata.Interface
	Metadata  *metadata.Encoded
	Bundle    *bundle.Bundle
}

// Pipeline runs builds against one configuration.
type Pipeline struct {
	cfg   config.Config
	tc    Toolchain
	store *cache.Store
	log   *zap.Logger
	obs   func(State)
}

// New wires a pipeline. The cache store is created from cfg.Cache unless
// caching is disabled there.
func New(cfg config.Config, tc Toolchain, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{cfg: cfg, tc: tc, log: log}
	if !cfg.Cache.Disabled && cfg.Cache.Dir != "" {
		p.store = cache.NewStore(cfg.Cache.Dir, log)
	}
	return p
}

// OnState registers a callback invoked at every state transition. The
// callback may run from the pipeline's worker goroutines.
func (p *Pipeline) OnState(fn func(State)) {
	p.obs = fn
}

func (p *Pipeline) notify(s State) {
	if p.obs != nil {
		p.obs(s)
	}
}

// Run executes one build. The returned error is always a stage-tagged
// *errors.Error or a context error; no partial bundle is ever written.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.ContractDir == "" {
		return nil, errors.InvalidInput(errors.StageToolchain, "no contract directory", nil)
	}

	workDir, err := os.MkdirTemp("", "cargo-contract-")
	if err != nil {
		return nil, errors.InvalidInput(errors.StageToolchain, "create workdir", err)
	}
	defer os.RemoveAll(workDir)

	version, err := p.tc.Version(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := p.compile(ctx, req.ContractDir, workDir)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey(sourceDigest(raw), version, optimizerDigest(p.cfg.Optimizer), validator.RulesVersion)
	buildID := req.BuildID
	if buildID == "" {
		buildID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cargo-contract/"+string(key))).String()
	}
	p.log.Debug("inputs digested",
		zap.String("key", string(key)), zap.String("build_id", buildID))

	useCache := p.store != nil && !req.NoCache && req.Mode == ModeBuild
	if useCache {
		entry, ok, err := p.store.Lookup(key)
		if err != nil {
			p.log.Warn("cache lookup failed, building uncached", zap.Error(err))
		}
		if ok {
			return p.fromCache(entry, buildID, req)
		}
	}

	var (
		art   *validator.Artifact
		stats optimizer.Stats
		iface *metadata.Interface
		enc   *metadata.Encoded
	)

	// The code path and the metadata path share no state until packaging,
	// so they run concurrently.
	var g errgroup.Group
	if req.Mode != ModeMetadata {
		g.Go(func() error {
			m, err := wasm.ParseModuleValidate(raw.Wasm)
			if err != nil {
				return errors.MalformedBinary("module", 0, err)
			}
			p.notify(StateLoaded)
			opt, s, err := optimizer.Optimize(m, p.cfg.Optimizer, p.log)
			if err != nil {
				return err
			}
			stats = s
			p.notify(StateOptimized)
			art, err = validator.Validate(opt, p.cfg.Validation)
			if err == nil {
				p.notify(StateValidated)
			}
			return err
		})
	}
	if req.Mode != ModeCheck {
		g.Go(func() error {
			var err error
			iface, err = metadata.Extract(raw.Introspection)
			if err != nil {
				return err
			}
			enc, err = metadata.Encode(iface)
			if err == nil {
				p.notify(StateMetadataReady)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		BuildID:   buildID,
		Stats:     stats,
		Artifact:  art,
		Interface: iface,
		Metadata:  enc,
	}
	switch req.Mode {
	case ModeCheck:
		res.State = StateValidated
		return res, nil
	case ModeMetadata:
		res.State = StateMetadataReady
		return res, nil
	}

	src := bundle.Source{Name: iface.Name, Version: iface.Version, BuildID: buildID}
	b, err := bundle.Package(art, enc, src)
	if err != nil {
		return nil, err
	}
	res.Bundle = b
	res.State = StatePackaged
	p.notify(StatePackaged)

	if req.OutputPath != "" {
		if err := b.Store(req.OutputPath); err != nil {
			return nil, err
		}
	}

	if useCache {
		entry := &cache.Entry{
			Wasm:         art.Encoding,
			MetadataBin:  enc.Binary,
			MetadataJSON: enc.JSON,
		}
		if err := p.store.Put(key, entry); err != nil {
			p.log.Warn("cache store failed, result not cached", zap.Error(err))
		}
	}

	res.State = StateDone
	p.notify(StateDone)
	p.log.Info("build complete",
		zap.String("contract", iface.Name),
		zap.String("bundle_digest", b.DigestHex()),
		zap.Int("size_before", stats.SizeBefore),
		zap.Int("size_after", stats.SizeAfter))
	return res, nil
}

// fromCache replays a cached build. The stored members are reused verbatim;
// only packaging runs.
func (p *Pipeline) fromCache(entry *cache.Entry, buildID string, req Request) (*Result, error) {
	iface, err := metadata.DecodeBinary(entry.MetadataBin)
	if err != nil {
		return nil, err
	}
	art := &validator.Artifact{
		Encoding: entry.Wasm,
		CodeHash: sha256.Sum256(entry.Wasm),
	}
	enc := &metadata.Encoded{Binary: entry.MetadataBin, JSON: entry.MetadataJSON}

	src := bundle.Source{Name: iface.Name, Version: iface.Version, BuildID: buildID}
	b, err := bundle.Package(art, enc, src)
	if err != nil {
		return nil, err
	}
	if req.OutputPath != "" {
		if err := b.Store(req.OutputPath); err != nil {
			return nil, err
		}
	}

	p.notify(StateDone)
	p.log.Info("build replayed from cache",
		zap.String("contract", iface.Name),
		zap.String("bundle_digest", b.DigestHex()))
	return &Result{
		State:     StateDone,
		CacheHit:  true,
		BuildID:   buildID,
		Artifact:  art,
		Interface: iface,
		Metadata:  enc,
		Bundle:    b,
	}, nil
}

// compile invokes the toolchain under the configured timeout and retries
// once when the failure is transient.
func (p *Pipeline) compile(ctx context.Context, contractDir, workDir string) (*RawArtifact, error) {
	attempt := func() (*RawArtifact, error) {
		cctx := ctx
		if p.cfg.Toolchain.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, p.cfg.Toolchain.Timeout)
			defer cancel()
		}
		return p.tc.Compile(cctx, contractDir, workDir)
	}

	raw, err := attempt()
	if err == nil {
		return raw, nil
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Transient() && ctx.Err() == nil {
		p.log.Warn("toolchain failed, retrying once", zap.Error(err))
		return attempt()
	}
	return nil, err
}

func sourceDigest(raw *RawArtifact) string {
	d := sha256.New()
	d.Write(raw.Wasm)
	d.Write([]byte{0})
	d.Write(raw.Introspection)
	return hex.EncodeToString(d.Sum(nil))
}

// optimizerDigest renders the optimizer configuration canonically so any
// change to it moves the cache key.
func optimizerDigest(cfg config.Optimizer) string {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "optimizer-config-unencodable"
	}
	sum := sha256.Sum256(out)
	return hex.EncodeToString(sum[:])
}
