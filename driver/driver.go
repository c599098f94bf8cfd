// Package driver defines the capability-gated contract every database
// engine adapter implements, plus the registry the HTTP layer uses to
// look adapters up by id. Engine differences (multi-database servers,
// single-database-per-connection servers, embedded files) are hidden
// behind this one interface; callers branch on Has(capability), never on
// the driver id.
package driver

import (
	"context"
	"sort"
	"sync"
)

// Capability names an optional feature a driver may support. Handlers
// must gate engine-specific operations on Has() before calling them.
type Capability string

const (
	CapDatabases   Capability = "databases"
	CapIndexes     Capability = "indexes"
	CapForeignKeys Capability = "foreign_keys"
	CapTriggers    Capability = "trigger"
	CapRoutines    Capability = "routine"
	CapProcessList Capability = "processlist"
	CapKill        Capability = "kill"
	CapUsers       Capability = "users"
	CapVariables   Capability = "variables"
	CapExplain     Capability = "explain"
	CapMultiQuery  Capability = "multi_query"
	CapDump        Capability = "dump"
	CapCollation   Capability = "collation"
	CapComment     Capability = "comment"
	CapUnsigned    Capability = "unsigned"
	CapAutoIncr    Capability = "auto_increment"
	CapDropColumn  Capability = "drop_col"
	CapSchemes     Capability = "schemes"
	CapSequences   Capability = "sequence"
)

// CapabilitySet is the typed feature set of one driver variant.
type CapabilitySet map[Capability]struct{}

func Capabilities(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Conn is a live connection to one database engine. Connections are
// cheap, single-request objects: the auth middleware opens one per
// request and closes it on the way out. (The SQLite adapter's Close is a
// detach; its handles live in a process-wide cache.)
//
// Query-shaped operations report SQL errors inside the Result, never as
// a returned error; returned errors are reserved for transport-level
// failures on the introspection calls.
type Conn interface {
	// Connect opens the connection. Ordinary authentication and network
	// failures come back as an error value with the engine's message.
	Connect(ctx context.Context, server, username, password string) error
	Close() error
	// SelectDatabase switches the connection's active database. For
	// engines that fix the database at connect time this tears the
	// connection down and re-establishes it.
	SelectDatabase(ctx context.Context, name string) error

	Databases(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, db string) ([]Table, error)
	TableStatus(ctx context.Context, table string) (map[string]any, error)
	Fields(ctx context.Context, table string) ([]Field, error)
	Indexes(ctx context.Context, table string) ([]Index, error)
	ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
	Triggers(ctx context.Context, table string) ([]Trigger, error)
	Collations(ctx context.Context) ([]string, error)

	Query(ctx context.Context, sql string, args ...any) *Result
	MultiQuery(ctx context.Context, sql string) []*Result
	Explain(ctx context.Context, sql string) ([]map[string]any, error)

	Select(ctx context.Context, table string, opts SelectOptions) *Result
	Insert(ctx context.Context, table string, data map[string]any) *Result
	Update(ctx context.Context, table string, data map[string]any, where []Condition) *Result
	Delete(ctx context.Context, table string, where []Condition) *Result
	Upsert(ctx context.Context, table string, rows []map[string]any, conflictKeys []string) *Result

	CreateDatabase(ctx context.Context, name, collation string) *Result
	DropDatabase(ctx context.Context, name string) *Result
	CreateTable(ctx context.Context, name string, fields []FieldDef, indexes []IndexDef) *Result
	DropTable(ctx context.Context, table string) *Result
	TruncateTable(ctx context.Context, table string) *Result
	AlterIndexes(ctx context.Context, table string, add, drop []IndexDef) *Result
	AddForeignKey(ctx context.Context, table string, fk ForeignKey) *Result
	DropForeignKey(ctx context.Context, table, name string) *Result
	CreateSQL(ctx context.Context, table string) (string, error)

	ServerInfo(ctx context.Context) (map[string]any, error)
	Variables(ctx context.Context) ([]Variable, error)
	Processes(ctx context.Context) ([]map[string]any, error)
	KillProcess(ctx context.Context, id string) *Result
	Users(ctx context.Context) ([]map[string]any, error)

	Has(c Capability) bool
	// QuoteID escapes an identifier for interpolation into SQL text.
	// Every SQL-building path must route table and column names through
	// it; raw interpolation of identifiers is a defect.
	QuoteID(name string) string
	Config() Metadata
}

// Info describes a registered driver for the public driver listing.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type entry struct {
	name    string
	factory func() Conn
}

var (
	registryMu sync.RWMutex
	registry   = map[string]entry{}
)

// Register adds a driver factory under the given id. Adapters call it
// from init().
func Register(id, name string, factory func() Conn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = entry{name: name, factory: factory}
}

// New returns a fresh, unconnected Conn for the given driver id.
func New(id string) (Conn, bool) {
	registryMu.RLock()
	e, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.factory(), true
}

// List returns the registered drivers sorted by id.
func List() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Info, 0, len(registry))
	for id, e := range registry {
		out = append(out, Info{ID: id, Name: e.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
