// Package bytecodecache persists compiled vm.Code objects keyed by a
// content hash of their source, so a host process that recompiles the
// same Arc source repeatedly (a REPL re-evaluating a changed file, a
// server reloading verbs) can skip recompilation. Backed by
// modernc.org/sqlite, matching the teacher pack's embedded-database
// storage choice (the teacher itself uses database/sql against
// MySL/Postgres for its own persistence; modernc.org/sqlite gives the
// same database/sql surface without a server process, which suits a
// single-binary interpreter better — see DESIGN.md for why mysql/pq
// were dropped in favor of it).
package bytecodecache

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/values"
	"github.com/wudi/arcvm/vm"
)

// Cache is a SQLite-backed store of (source hash -> compiled Code).
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) a cache database at path. Use
// ":memory:" for an ephemeral, process-local cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bytecodecache: open %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS bytecode (
	hash TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	version INTEGER NOT NULL,
	payload BLOB NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bytecodecache: migrate: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// record is the gob-serializable projection of vm.Code: only the
// literal shapes a compiler actually emits into a literal vector
// (immediates, symbols, strings, and nested code for closures) are
// supported, since arbitrary runtime heap values (conses built at
// execution time, live continuations) have no business being
// persisted.
type record struct {
	Version      int
	SourceName   string
	Instructions []opcodes.Instruction
	Literals     []literal
}

type literal struct {
	Type   values.Type
	Fixnum int64
	Sym    int32
	Str    string
	Nested *record
}

func encodeLiteral(v values.Value) (literal, error) {
	switch v.Type {
	case values.TypeNil, values.TypeTrue, values.TypeUnbound, values.TypeFixnum, values.TypeSymbol, values.TypeChar:
		return literal{Type: v.Type, Fixnum: v.Fixnum, Sym: v.Sym}, nil
	case values.TypeString:
		s, ok := v.Obj.(*values.String)
		if !ok {
			return literal{}, errors.New("bytecodecache: malformed string literal")
		}
		return literal{Type: v.Type, Str: s.String()}, nil
	case values.TypeCode:
		code, ok := v.Obj.(*vm.Code)
		if !ok {
			return literal{}, errors.New("bytecodecache: malformed code literal")
		}
		rec, err := toRecord(code)
		if err != nil {
			return literal{}, err
		}
		return literal{Type: v.Type, Nested: rec}, nil
	default:
		return literal{}, fmt.Errorf("bytecodecache: literal type %s is not cacheable", v.Type)
	}
}

func decodeLiteral(l literal) (values.Value, error) {
	switch l.Type {
	case values.TypeNil:
		return values.Nil, nil
	case values.TypeTrue:
		return values.True, nil
	case values.TypeUnbound:
		return values.Unbound, nil
	case values.TypeFixnum:
		return values.Fixnum(l.Fixnum), nil
	case values.TypeSymbol:
		return values.Sym(l.Sym), nil
	case values.TypeChar:
		return values.Char(rune(l.Fixnum)), nil
	case values.TypeString:
		return values.Str(values.NewString(l.Str)), nil
	case values.TypeCode:
		code, err := fromRecord(l.Nested)
		if err != nil {
			return values.Nil, err
		}
		return values.Value{Type: values.TypeCode, Obj: code}, nil
	default:
		return values.Nil, fmt.Errorf("bytecodecache: unknown literal tag %d", l.Type)
	}
}

func toRecord(code *vm.Code) (*record, error) {
	rec := &record{
		Version:      code.Version,
		SourceName:   code.SourceName,
		Instructions: code.Instructions,
		Literals:     make([]literal, len(code.Literals)),
	}
	for i, lit := range code.Literals {
		enc, err := encodeLiteral(lit)
		if err != nil {
			return nil, err
		}
		rec.Literals[i] = enc
	}
	return rec, nil
}

func fromRecord(rec *record) (*vm.Code, error) {
	code := &vm.Code{
		Version:      rec.Version,
		SourceName:   rec.SourceName,
		Instructions: rec.Instructions,
		Literals:     make([]values.Value, len(rec.Literals)),
	}
	for i, lit := range rec.Literals {
		dec, err := decodeLiteral(lit)
		if err != nil {
			return nil, err
		}
		code.Literals[i] = dec
	}
	return code, nil
}

// Put stores code under hash, replacing any previous entry.
func (c *Cache) Put(hash, sourceName string, code *vm.Code) error {
	rec, err := toRecord(code)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("bytecodecache: encode: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT INTO bytecode (hash, source_name, version, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET source_name=excluded.source_name, version=excluded.version, payload=excluded.payload`,
		hash, sourceName, code.Version, buf.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("bytecodecache: insert: %w", err)
	}
	return nil
}

// Get retrieves the Code cached under hash, reporting false if absent.
func (c *Cache) Get(hash string) (*vm.Code, bool, error) {
	var payload []byte
	err := c.db.QueryRow(`SELECT payload FROM bytecode WHERE hash = ?`, hash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("bytecodecache: query: %w", err)
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
		return nil, false, fmt.Errorf("bytecodecache: decode: %w", err)
	}
	code, err := fromRecord(&rec)
	if err != nil {
		return nil, false, err
	}
	return code, true, nil
}
