package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wudi/arcvm/bytecodecache"
	"github.com/wudi/arcvm/vm"
)

// codeCache backs the hand-assembled demo programs in demo.go: this
// binary has no compiler front end (spec.md's reader/compiler stages
// are out of scope), so there is no source text to recompile on a
// cache miss in the usual sense. What repeats instead is the demo
// itself — a REPL session running `factorial` a dozen times, or the
// `demo` subcommand invoked repeatedly in a shell loop — and each
// repeat re-assembles byte-identical instructions through asm.go. The
// cache keys on the demo's name (its "source identity") rather than a
// hash of text, and is otherwise the same SQLite-backed store
// bytecodecache ships for a real compiler to use.
var codeCache *bytecodecache.Cache

func codeCachePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".arcvm_bytecode_cache.db")
	}
	return ".arcvm_bytecode_cache.db"
}

// openCodeCache opens the shared cache once. Failure to open it is not
// fatal: every demo builder still works by assembling from scratch, so
// a read-only filesystem or a locked database just turns caching off.
func openCodeCache() {
	if codeCache != nil {
		return
	}
	c, err := bytecodecache.Open(codeCachePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "arcvm: bytecode cache unavailable: %v\n", err)
		return
	}
	codeCache = c
}

// cachedCode returns the Code stored under key, building it with build
// and populating the cache on a miss (or when the cache itself could
// not be opened, in which case every call just rebuilds).
func cachedCode(key string, build func() *vm.Code) *vm.Code {
	openCodeCache()
	if codeCache != nil {
		if code, ok, err := codeCache.Get(key); err == nil && ok {
			return code
		}
	}
	code := build()
	if codeCache != nil {
		if err := codeCache.Put(key, code.SourceName, code); err != nil {
			fmt.Fprintf(os.Stderr, "arcvm: caching %q: %v\n", key, err)
		}
	}
	return code
}
