package zgraph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Client ties the engine to its collaborators: entity metadata, a
// connection provider, a dialect and the trigger sink.
type Client struct {
	meta     MetadataProvider
	provider ConnectionProvider
	reads    ConnectionProvider
	dialect  *Dialect
	logger   *slog.Logger
	triggers Triggers

	stmtCache        *StmtCache
	fetchConcurrency int
}

// Option configures a Client.
type Option func(*Client)

// WithDialect sets the SQL dialect. The default is Dialects.Default.
func WithDialect(d *Dialect) Option {
	return func(c *Client) { c.dialect = d }
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTriggers sets the sink notified by mutations.
func WithTriggers(t Triggers) Option {
	return func(c *Client) { c.triggers = t }
}

// WithStmtCache reuses prepared statements for statements run on a *sql.DB.
func WithStmtCache(cache *StmtCache) Option {
	return func(c *Client) { c.stmtCache = cache }
}

// WithReadProvider routes queries, fetches and loads to p. Mutations keep
// using the main provider.
func WithReadProvider(p ConnectionProvider) Option {
	return func(c *Client) { c.reads = p }
}

// WithFetchConcurrency lets the fetch engine run up to n association loads
// of one level at the same time, each in its own connection scope. Values
// below 2 keep loads sequential on one connection.
func WithFetchConcurrency(n int) Option {
	return func(c *Client) { c.fetchConcurrency = n }
}

// NewClient returns a client over meta and provider.
func NewClient(meta MetadataProvider, provider ConnectionProvider, opts ...Option) *Client {
	c := &Client{
		meta:     meta,
		provider: provider,
		dialect:  Dialects.Default,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reads == nil {
		c.reads = c.provider
	}
	return c
}

// Meta returns the metadata provider.
func (c *Client) Meta() MetadataProvider { return c.meta }

// Dialect returns the configured dialect.
func (c *Client) Dialect() *Dialect { return c.dialect }

// Logger returns the configured logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Table returns a root table for entity.
func (c *Client) Table(entity string) *Table { return NewTable(c.meta, entity) }

// Fetcher returns an id-only fetcher for entity.
func (c *Client) Fetcher(entity string) *Fetcher {
	e, err := c.meta.Entity(entity)
	if err != nil {
		return &Fetcher{err: err}
	}
	return NewFetcher(e)
}

// ParseFetcher parses a fetch specification against the client's metadata.
func (c *Client) ParseFetcher(src string) (*Fetcher, error) {
	return ParseFetcher(c.meta, src)
}

func (c *Client) fire(fn func(Triggers)) {
	if c.triggers != nil {
		fn(c.triggers)
	}
}

// MissingTables returns the tables of the registered entities that the
// connected database does not have. It needs a dialect with
// QueryListTables and metadata that can list its entities.
func (c *Client) MissingTables(ctx context.Context) ([]string, error) {
	lister, ok := c.meta.(interface{ Entities() []*EntityType })
	if !ok {
		return nil, newConfigError("schema", "", "", "metadata provider cannot list entities")
	}
	if c.dialect.QueryListTables == "" {
		return nil, newConfigError("schema", "", "", fmt.Sprintf("dialect %s cannot list tables", c.dialect.Name))
	}

	var rows [][]any
	err := c.reads.RunWithConnection(ctx, func(ctx context.Context, conn Conn) error {
		var err error
		rows, err = c.query(ctx, conn, c.dialect.QueryListTables, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(rows))
	for _, r := range rows {
		have[strings.ToLower(fmt.Sprint(plainScan(r[0])))] = true
	}

	var missing []string
	check := func(name string) {
		if !have[strings.ToLower(name)] && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	for _, e := range lister.Entities() {
		if e.Abstract {
			continue
		}
		check(e.Table)
		for _, p := range e.Associations() {
			if p.Assoc.Middle != nil {
				check(p.Assoc.Middle.Table)
			}
		}
	}
	return missing, nil
}
