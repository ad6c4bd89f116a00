package index

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrNotFound = errors.New("document not found")
	ErrClosed   = errors.New("store is closed")
)

type StoreOptions struct {
	Analyzers Analyzers
	Logger    *zap.Logger
}

// Store keeps documents and their analysed sub-field terms in SQLite.
type Store struct {
	db        *sql.DB
	analyzers Analyzers
	logger    *zap.Logger
}

// DriverType reports which SQLite implementation the binary was built with.
func DriverType() string { return driverType }

// Open opens or creates the database at dsn and applies pending migrations.
func Open(ctx context.Context, dsn string, opts StoreOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One connection serialises writers and keeps pragmas on every query.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %q", pragma)
		}
	}
	s := &Store{db: db, analyzers: opts.Analyzers, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("index opened", zap.String("dsn", dsn), zap.String("driver", driverType))
	return s, nil
}

// Migrate applies the embedded migrations that are not recorded in
// schema_migrations yet, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var tracked bool
	err = s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations')").Scan(&tracked)
	if err != nil {
		return s.wrap(err, "check schema_migrations")
	}

	for _, name := range files {
		version, _, _ := strings.Cut(name, "_")
		if !tracked && version != "000" {
			return errors.Newf("schema_migrations table missing, but migration is not 000: %s", name)
		}
		if tracked {
			var exists bool
			err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
			if err != nil {
				return s.wrap(err, "check migration "+name)
			}
			if exists {
				continue
			}
		}
		body, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", name)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", name)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", name)
		}
		s.logger.Info("applied migration", zap.String("migration", name))
		if version == "000" {
			tracked = true
		}
	}
	return nil
}

// Put inserts doc or replaces the stored document with the same id.
func (s *Store) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err, "begin put")
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM terms WHERE doc_id = ?",
		"DELETE FROM subfields WHERE doc_id = ?",
		"DELETE FROM documents WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, doc.ID); err != nil {
			return s.wrap(err, "clear document")
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents (id, field, content, created_at) VALUES (?, ?, ?, ?)",
		doc.ID, doc.Field, doc.Content, doc.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return s.wrap(err, "insert document")
	}
	for key, values := range doc.SubFields {
		_, typ, ok := SplitSubFieldKey(key)
		if !ok {
			return errors.Newf("invalid sub-field key %q", key)
		}
		analyzer := s.analyzers.For(typ)
		for _, v := range values {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO subfields (doc_id, key, value) VALUES (?, ?, ?)", doc.ID, key, v,
			); err != nil {
				return s.wrap(err, "insert sub-field")
			}
			for _, term := range analyzer.Terms(v) {
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO terms (doc_id, key, term) VALUES (?, ?, ?)", doc.ID, key, term,
				); err != nil {
					return s.wrap(err, "insert term")
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(err, "commit put")
	}
	s.logger.Debug("document stored", zap.String("id", doc.ID), zap.Int("sub_fields", len(doc.SubFields)))
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	var (
		doc     Document
		created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, field, content, created_at FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &doc.Field, &doc.Content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return Document{}, s.wrap(err, "get document")
	}
	if doc.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Document{}, errors.Wrapf(err, "document %s created_at", id)
	}
	if doc.SubFields, err = s.subFields(ctx, id); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Store) subFields(ctx context.Context, id string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM subfields WHERE doc_id = ? ORDER BY key, value", id)
	if err != nil {
		return nil, s.wrap(err, "query sub-fields")
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scan sub-field")
		}
		out[key] = append(out[key], value)
	}
	return out, s.wrap(rows.Err(), "read sub-fields")
}

// Search returns the documents whose <field>.<type> sub-field holds every
// term of query after analysis with the type's analyzer, oldest first.
func (s *Store) Search(ctx context.Context, field, entityType, query string) ([]Document, error) {
	terms := s.analyzers.For(entityType).Terms(query)
	if len(terms) == 0 {
		return []Document{}, nil
	}
	slices.Sort(terms)
	terms = slices.Compact(terms)

	args := make([]any, 0, len(terms)+2)
	args = append(args, SubFieldKey(field, entityType))
	for _, t := range terms {
		args = append(args, t)
	}
	args = append(args, len(terms))
	q := `SELECT d.id FROM documents d
		JOIN terms t ON t.doc_id = d.id
		WHERE t.key = ? AND t.term IN (?` + strings.Repeat(", ?", len(terms)-1) + `)
		GROUP BY d.id
		HAVING COUNT(DISTINCT t.term) = ?
		ORDER BY d.created_at, d.id`
	ids, err := s.queryIDs(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// All returns every stored document, oldest first.
func (s *Store) All(ctx context.Context) ([]Document, error) {
	ids, err := s.queryIDs(ctx, "SELECT id FROM documents ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, s.wrap(err, "count documents")
	}
	return n, nil
}

func (s *Store) queryIDs(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap(err, "query documents")
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan id")
		}
		ids = append(ids, id)
	}
	return ids, s.wrap(rows.Err(), "read documents")
}

// load fetches documents after the id query is closed; the pool holds a
// single connection.
func (s *Store) load(ctx context.Context, ids []string) ([]Document, error) {
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is closed") {
		return errors.Mark(errors.Wrap(err, msg), ErrClosed)
	}
	return errors.Wrap(err, msg)
}
