package cli

import (
	"github.com/roach88/statecopy/internal/store"
	"github.com/roach88/statecopy/internal/store/fs"
	"github.com/roach88/statecopy/internal/store/mem"
	"github.com/roach88/statecopy/internal/store/null"
	"github.com/roach88/statecopy/internal/store/sqlite"
	zkstore "github.com/roach88/statecopy/internal/store/zk"
)

// newRegistry binds every backend the CLI ships. Built per invocation and
// threaded through explicitly; there is no process-wide store table.
func newRegistry() *store.Registry {
	r := store.NewRegistry()
	r.Register(store.KindFS, fs.Open)
	r.Register(store.KindZK, zkstore.Open)
	r.Register(store.KindMemory, mem.Open)
	r.Register(store.KindNull, null.Open)
	r.Register(store.KindSQL, sqlite.Open)
	return r
}
