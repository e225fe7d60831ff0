// Package cache is a content-addressed store for finished build artifacts.
// A key digests everything that affects the output; a hit replays the stored
// members without re-running the pipeline.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/MaciejBaj/cargo-contract/errors"
)

// Key addresses one cache entry. It is the hex rendering of an xxhash64
// digest over every input that affects the build output.
type Key string

// NewKey digests the key components with NUL separators so adjacent
// components cannot collide by concatenation.
func NewKey(sourceDigest, compilerVersion, optimizerDigest, ruleVersion string) Key {
	d := xxhash.New()
	for _, part := range []string{sourceDigest, compilerVersion, optimizerDigest, ruleVersion} {
		d.WriteString(part)
		d.Write([]byte{0})
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], d.Sum64())
	return Key(hex.EncodeToString(buf[:]))
}

// Entry holds the cached build outputs.
type Entry struct {
	Wasm         []byte
	MetadataBin  []byte
	MetadataJSON []byte
}

// Member file names inside an entry directory.
const (
	memberWasm         = "contract.wasm"
	memberMetadataBin  = "metadata.bin"
	memberMetadataJSON = "metadata.json"
	manifestName       = "entry.json"
)

const manifestSchema = 1

type manifest struct {
	Schema  int               `json:"schema"`
	Members map[string]string `json:"members"` // name -> sha256 hex
}

// Store persists entries under <dir>/<key>/.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore returns a store rooted at dir. The directory is created lazily on
// the first Put.
func NewStore(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, log: log}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Lookup loads the entry for key. A missing entry is (nil, false, nil); a
// present but unreadable or corrupt entry is reported as a recoverable cache
// I/O error so the caller can proceed uncached.
func (s *Store) Lookup(key Key) (*Entry, bool, error) {
	entryDir := filepath.Join(s.dir, string(key))

	raw, err := os.ReadFile(filepath.Join(entryDir, manifestName))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.CacheIO("read manifest", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, errors.CacheIO("parse manifest", err)
	}
	if m.Schema != manifestSchema {
		return nil, false, errors.CacheIO("check manifest",
			fmt.Errorf("unsupported schema %d", m.Schema))
	}

	readMember := func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(entryDir, name))
		if err != nil {
			return nil, errors.CacheIO("read "+name, err)
		}
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != m.Members[name] {
			return nil, errors.CacheIO("verify "+name,
				fmt.Errorf("digest mismatch: %s", got))
		}
		return data, nil
	}

	var e Entry
	if e.Wasm, err = readMember(memberWasm); err != nil {
		return nil, false, err
	}
	if e.MetadataBin, err = readMember(memberMetadataBin); err != nil {
		return nil, false, err
	}
	if e.MetadataJSON, err = readMember(memberMetadataJSON); err != nil {
		return nil, false, err
	}

	s.log.Debug("cache hit", zap.String("key", string(key)))
	return &e, true, nil
}

// Put stores the entry for key. Members are written to a temp directory and
// renamed into place, so readers never observe a partial entry. If another
// writer landed first, its entry stands and Put succeeds without replacing it.
func (s *Store) Put(key Key, e *Entry) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.CacheIO("create cache dir", err)
	}

	tmp, err := os.MkdirTemp(s.dir, "put-")
	if err != nil {
		return errors.CacheIO("create temp dir", err)
	}
	defer os.RemoveAll(tmp)

	m := manifest{Schema: manifestSchema, Members: make(map[string]string)}
	writeMember := func(name string, data []byte) error {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0o644); err != nil {
			return errors.CacheIO("write "+name, err)
		}
		sum := sha256.Sum256(data)
		m.Members[name] = hex.EncodeToString(sum[:])
		return nil
	}

	if err := writeMember(memberWasm, e.Wasm); err != nil {
		return err
	}
	if err := writeMember(memberMetadataBin, e.MetadataBin); err != nil {
		return err
	}
	if err := writeMember(memberMetadataJSON, e.MetadataJSON); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.CacheIO("encode manifest", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestName), raw, 0o644); err != nil {
		return errors.CacheIO("write manifest", err)
	}

	entryDir := filepath.Join(s.dir, string(key))
	if err := os.Rename(tmp, entryDir); err != nil {
		// First rename wins: a concurrent Put for the same key already
		// installed an equivalent entry.
		if _, statErr := os.Stat(entryDir); statErr == nil {
			return nil
		}
		return errors.CacheIO("install entry", err)
	}

	s.log.Debug("cache store", zap.String("key", string(key)))
	return nil
}
