// Package sqlengine implements the "SQL protocol" of spec §6: register a
// named engine from a URL, execute a statement ignoring rows, and execute
// a query returning row-mappings in the column order the database
// reports. It is kept opaque to the walker (spec §1) behind
// protein.SqlEngine and walker.SqlRegistry.
//
// Grounded on termfx-morfx/internal/db.db.go's database/sql usage
// (sql.Open, Exec, row scanning) generalized from one
// compiled-in SQLite handle to a registry of URL-addressed engines
// spanning the three drivers the example corpus carries: go-sql-driver/
// mysql, jackc/pgx/v5/stdlib, mattn/go-sqlite3.
package sqlengine

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fralau/protein"
)

// Registry implements walker.SqlRegistry: it maps `.def_sql` URLs to
// database/sql handles, keyed by the engine name `.def_sql` gives them.
type Registry struct {
	mu        sync.Mutex
	engines   map[string]*Engine
	databases map[string]protein.Database
}

// NewRegistry returns an empty SQL engine registry. databases is the
// project config's named URL table (config.go's Config.Databases):
// `.def_sql .url: "$db.primary"` resolves against it instead of naming a
// connection string directly in the document.
func NewRegistry(databases map[string]protein.Database) *Registry {
	return &Registry{engines: make(map[string]*Engine), databases: databases}
}

// Register implements walker.SqlRegistry: opens a new
// database/sql.DB for url on every call and wraps it as a protein.SqlEngine bound to
// name. kwargs currently recognizes "max_open_conns" and
// "conn_max_lifetime_seconds" as optional pool-tuning knobs; any other
// keys are ignored, matching the spec's characterization of kwargs as
// engine-specific and opaque to the core.
func (r *Registry) Register(name, url string, kwargs map[string]protein.Node) (protein.SqlEngine, error) {
	url, explicitDriver, err := r.resolveNamedURL(url)
	if err != nil {
		return nil, err
	}

	driver := explicitDriver
	if driver == "" {
		driver, url, err = parseURL(url)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("opening %s engine %q: %w", driver, name, err)
	}

	if n, ok := intKwarg(kwargs, "max_open_conns"); ok {
		db.SetMaxOpenConns(n)
	}

	if n, ok := intKwarg(kwargs, "conn_max_lifetime_seconds"); ok {
		db.SetConnMaxLifetime(time.Duration(n) * time.Second)
	}

	e := &Engine{name: name, driver: driver, db: db}

	r.mu.Lock()
	r.engines[name] = e
	r.mu.Unlock()

	return e, nil
}

// CloseAll disposes every registered engine (spec §8: "SQL engines are
// disposed at interpreter teardown").
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error

	for _, e := range r.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

const namedURLPrefix = "$db."

// resolveNamedURL resolves a "$db.NAME" reference against the registry's
// configured database table (config.go's Config.Databases), returning the
// configured URL and, when the config entry names a driver explicitly,
// that driver name (bypassing parseURL's scheme inference entirely). A
// url not starting with "$db." is returned unchanged with an empty
// driver, deferring to parseURL.
func (r *Registry) resolveNamedURL(url string) (resolvedURL, driver string, err error) {
	if !strings.HasPrefix(url, namedURLPrefix) {
		return url, "", nil
	}

	name := strings.TrimPrefix(url, namedURLPrefix)

	db, ok := r.databases[name]
	if !ok {
		return "", "", fmt.Errorf("%w: no database named %q in project configuration", protein.ErrSQL, name)
	}

	return db.URL, db.Driver, nil
}

func intKwarg(kwargs map[string]protein.Node, key string) (int, bool) {
	n, ok := kwargs[key]
	if !ok || n.Kind != protein.KindInt {
		return 0, false
	}

	return int(n.Int), true
}

// parseURL maps a `.def_sql` URL to a database/sql driver name and the
// DSN that driver expects (spec.md SPEC_FULL §6 "SQL protocol
// bindings"):
//
//	mysql://...             -> driver "mysql", DSN is the URL with the
//	                            scheme stripped (go-sql-driver/mysql's
//	                            DSN grammar predates url.URL)
//	postgres(ql)://...       -> driver "pgx", DSN unchanged (pgx/v5/stdlib
//	                            accepts standard postgres connection URLs)
//	sqlite(3)://path         -> driver "sqlite3", DSN is the path with the
//	                            scheme stripped
func parseURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "mysql://"):
		return "mysql", strings.TrimPrefix(url, "mysql://"), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, nil
	case strings.HasPrefix(url, "sqlite3://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite3://"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://"), nil
	default:
		return "", "", fmt.Errorf("%w: unrecognized SQL URL scheme %q", protein.ErrSQL, url)
	}
}

// Engine is the concrete protein.SqlEngine backing one `.def_sql` entry.
type Engine struct {
	name   string
	driver string
	db     *sql.DB
}

func (e *Engine) Name() string { return e.name }

// Exec implements `.exec_sql`: executes stmt with args bound positionally,
// discarding any result rows.
func (e *Engine) Exec(stmt string, args []protein.Node) error {
	_, err := e.db.Exec(stmt, nodesToDriverArgs(args)...)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}

	return nil
}

// Query implements `.load_sql`: runs stmt and returns one Mapping Node
// per row, keyed by the column names the driver reports, in the order
// the driver reports them.
func (e *Engine) Query(stmt string, args []protein.Node) ([]protein.Node, error) {
	rows, err := e.db.Query(stmt, nodesToDriverArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	var out []protein.Node

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}

		entries := make([]protein.Entry, len(cols))
		for i, col := range cols {
			entries[i] = protein.Entry{Key: col, Value: driverValueToNode(raw[i])}
		}

		out = append(out, protein.Map(entries...))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	return out, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func nodesToDriverArgs(args []protein.Node) []any {
	out := make([]any, len(args))
	for i, n := range args {
		out[i] = nodeToDriverArg(n)
	}

	return out
}

func nodeToDriverArg(n protein.Node) any {
	switch n.Kind {
	case protein.KindNull:
		return nil
	case protein.KindBool:
		return n.Bool
	case protein.KindInt:
		return n.Int
	case protein.KindFloat:
		return n.Float
	case protein.KindTimestamp:
		return n.Timestamp
	case protein.KindString:
		return n.String
	default:
		return n.String
	}
}

// driverValueToNode converts one database/sql scanned column value back
// into a Node. NUMERIC/DECIMAL columns commonly surface as []byte
// (string-formatted) or as their own sql.RawBytes on most drivers; these
// are recovered through shopspring/decimal and re-rendered as a Node
// string rather than truncated through float64, since Node has no
// dedicated decimal kind (spec §3's Node is a closed sum type) and a
// float64 round-trip would reintroduce the precision loss
// shopspring/decimal exists to avoid.
func driverValueToNode(v any) protein.Node {
	switch val := v.(type) {
	case nil:
		return protein.Null
	case bool:
		return protein.Bool(val)
	case int64:
		return protein.Int(val)
	case float64:
		return protein.Float(val)
	case time.Time:
		return protein.Timestamp(val)
	case string:
		return protein.String(val)
	case []byte:
		if d, err := decimal.NewFromString(string(val)); err == nil {
			return protein.String(d.String())
		}

		return protein.String(string(val))
	default:
		return protein.String(fmt.Sprintf("%v", val))
	}
}
