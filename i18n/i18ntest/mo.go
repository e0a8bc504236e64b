// Package i18ntest writes GNU gettext .mo catalogs for tests.
package i18ntest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const moMagic = 0x950412de

// Entry is one catalog message. Plural and Context are optional; Str holds
// one translation per plural form.
type Entry struct {
	Context string
	ID      string
	Plural  string
	Str     []string
}

// Message is shorthand for a single-form entry.
func Message(id, str string) Entry {
	return Entry{ID: id, Str: []string{str}}
}

const header = "Content-Type: text/plain; charset=UTF-8\n" +
	"Plural-Forms: nplurals=2; plural=(n != 1);\n"

// Encode returns the little-endian .mo encoding of entries plus a header.
func Encode(entries []Entry) []byte {
	type pair struct{ id, str string }
	pairs := []pair{{"", header}}
	for _, e := range entries {
		id := e.ID
		if e.Context != "" {
			id = e.Context + "\x04" + id
		}
		if e.Plural != "" {
			id += "\x00" + e.Plural
		}
		pairs = append(pairs, pair{id, strings.Join(e.Str, "\x00")})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	n := uint32(len(pairs))
	idTable := uint32(28)
	strTable := idTable + 8*n
	data := strTable + 8*n

	var ids, strs, blob bytes.Buffer
	offset := data
	for _, p := range pairs {
		binary.Write(&ids, binary.LittleEndian, [2]uint32{uint32(len(p.id)), offset})
		blob.WriteString(p.id)
		blob.WriteByte(0)
		offset += uint32(len(p.id)) + 1
	}
	for _, p := range pairs {
		binary.Write(&strs, binary.LittleEndian, [2]uint32{uint32(len(p.str)), offset})
		blob.WriteString(p.str)
		blob.WriteByte(0)
		offset += uint32(len(p.str)) + 1
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, [7]uint32{moMagic, 0, n, idTable, strTable, 0, data})
	out.Write(ids.Bytes())
	out.Write(strs.Bytes())
	out.Write(blob.Bytes())
	return out.Bytes()
}

// WriteMo writes an encoded catalog to path, creating parent directories.
func WriteMo(t testing.TB, path string, entries ...Entry) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create catalog dir: %v", err)
	}
	if err := os.WriteFile(path, Encode(entries), 0644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	return path
}
