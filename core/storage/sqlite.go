package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/ports"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Write validation errors.
var (
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrRequired         = errors.New("required attribute missing")
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// Querier is the subset of *sql.DB and *sql.Tx used by the store.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Backend with SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex

	// schemas maps logical names to the schemas tables were created for
	schemas map[string]schema.Schema

	ids    ports.IDGenerator
	logger zerolog.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithIDGenerator sets the generator used for new record ids.
func WithIDGenerator(ids ports.IDGenerator) Option {
	return func(s *SQLiteStore) { s.ids = ids }
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = logger }
}

// NewSQLiteStore opens a SQLite database at path.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return NewSQLiteStoreFromDB(db, opts...), nil
}

// NewSQLiteStoreFromDB creates a store from an existing connection.
func NewSQLiteStoreFromDB(db *sql.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		db:      db,
		schemas: make(map[string]schema.Schema),
		ids:     uuidV7{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureTable records the schema and creates its table and indexes.
// Virtual schemas are recorded but get no table.
func (s *SQLiteStore) EnsureTable(ctx context.Context, sch schema.Schema) error {
	sch = sch.Normalize()

	s.mu.Lock()
	s.schemas[sch.LogicalName] = sch
	s.mu.Unlock()

	if sch.Virtual {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, BuildCreateTableSQL(sch)); err != nil {
		return fmt.Errorf("create table %s: %w", sch.LogicalName, err)
	}

	for _, indexSQL := range BuildIndexSQL(sch) {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.logger.Debug().Str("entity", sch.LogicalName).Msg("table ready")
	return nil
}

// BeginSession starts a transaction.
func (s *SQLiteStore) BeginSession(ctx context.Context) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &sqliteSession{store: s, tx: tx}, nil
}

// Querier returns the transaction of sess, or the database when sess is nil.
func (s *SQLiteStore) Querier(sess Session) (Querier, error) {
	if sess == nil {
		return s.db, nil
	}
	ss, ok := sess.(*sqliteSession)
	if !ok || ss.store != s {
		return nil, ErrForeignSession
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state != sessionOpen {
		return nil, ErrSessionClosed
	}
	return ss.tx, nil
}

// CreateRecord inserts a record. A missing id is generated.
func (s *SQLiteStore) CreateRecord(ctx context.Context, sess Session, p CreateRecordParams) (string, error) {
	sch, err := s.stored(p.LogicalName)
	if err != nil {
		return "", err
	}
	q, err := s.Querier(sess)
	if err != nil {
		return "", err
	}

	data := p.Data.Clone()
	if data == nil {
		data = make(Record)
	}

	id := idString(data[sch.IDAttribute])
	if id == "" {
		id = s.ids.New()
	}
	data[sch.IDAttribute] = id

	for _, name := range schema.SortedAttributeNames(sch) {
		attr := sch.Attributes[name]
		if attr.Required && !sch.IsSystemAttribute(name) && data[name] == nil {
			return "", fmt.Errorf("%w: %s.%s", ErrRequired, sch.LogicalName, name)
		}
	}

	if err := s.validateReferences(ctx, q, sch, data); err != nil {
		return "", err
	}

	var columns, placeholders []string
	var values []any
	for _, name := range sortedKeys(data) {
		attr, ok := sch.Attributes[name]
		if !ok {
			return "", fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, sch.LogicalName, name)
		}
		v, err := toDB(attr, data[name])
		if err != nil {
			return "", fmt.Errorf("attribute %s: %w", name, err)
		}
		columns = append(columns, quoteIdent(name))
		placeholders = append(placeholders, "?")
		values = append(values, v)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(sch.LogicalName),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	if _, err := q.ExecContext(ctx, insertSQL, values...); err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}

	return id, nil
}

// UpdateRecord modifies an existing record. The id attribute is never
// changed.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, sess Session, p UpdateRecordParams) (string, error) {
	sch, err := s.stored(p.LogicalName)
	if err != nil {
		return "", err
	}
	q, err := s.Querier(sess)
	if err != nil {
		return "", err
	}

	if err := s.validateReferences(ctx, q, sch, p.Data); err != nil {
		return "", err
	}

	var sets []string
	var values []any
	for _, name := range sortedKeys(p.Data) {
		if name == sch.IDAttribute {
			continue
		}
		attr, ok := sch.Attributes[name]
		if !ok {
			return "", fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, sch.LogicalName, name)
		}
		if attr.Required && p.Data[name] == nil {
			return "", fmt.Errorf("%w: %s.%s", ErrRequired, sch.LogicalName, name)
		}
		v, err := toDB(attr, p.Data[name])
		if err != nil {
			return "", fmt.Errorf("attribute %s: %w", name, err)
		}
		sets = append(sets, quoteIdent(name)+" = ?")
		values = append(values, v)
	}

	if len(sets) == 0 {
		// nothing to write, but the record must exist
		if _, err := s.RetrieveRecord(ctx, sess, RetrieveRecordParams{
			LogicalName: p.LogicalName,
			ID:          p.ID,
			Columns:     []string{sch.IDAttribute},
		}); err != nil {
			return "", err
		}
		return p.ID, nil
	}

	values = append(values, p.ID)
	updateSQL := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(sch.LogicalName),
		strings.Join(sets, ", "),
		quoteIdent(sch.IDAttribute),
	)

	result, err := q.ExecContext(ctx, updateSQL, values...)
	if err != nil {
		return "", fmt.Errorf("update: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, sch.LogicalName, p.ID)
	}

	return p.ID, nil
}

// DeleteRecord removes a record.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, sess Session, p DeleteRecordParams) error {
	sch, err := s.stored(p.LogicalName)
	if err != nil {
		return err
	}
	q, err := s.Querier(sess)
	if err != nil {
		return err
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(sch.LogicalName), quoteIdent(sch.IDAttribute))

	result, err := q.ExecContext(ctx, deleteSQL, p.ID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, sch.LogicalName, p.ID)
	}

	return nil
}

// RetrieveRecord returns one record by id.
func (s *SQLiteStore) RetrieveRecord(ctx context.Context, sess Session, p RetrieveRecordParams) (Record, error) {
	sch, err := s.stored(p.LogicalName)
	if err != nil {
		return nil, err
	}
	q, err := s.Querier(sess)
	if err != nil {
		return nil, err
	}

	columns, err := selectColumns(sch, p.Columns)
	if err != nil {
		return nil, err
	}

	where, args, err := compileFilter(And(Eq(sch.IDAttribute, p.ID), p.Filter), filterColumn(sch))
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", joinIdents(columns), quoteIdent(sch.LogicalName), where)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	records, err := scanRecords(rows, sch, columns)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, sch.LogicalName, p.ID)
	}

	record := records[0]
	if err := s.expand(ctx, q, sch, record, p.Expand); err != nil {
		return nil, err
	}
	return record, nil
}

// RetrieveRecords returns a page of records matching the filter.
func (s *SQLiteStore) RetrieveRecords(ctx context.Context, sess Session, p RetrieveRecordsParams) (RecordList, error) {
	sch, err := s.stored(p.LogicalName)
	if err != nil {
		return RecordList{}, err
	}
	q, err := s.Querier(sess)
	if err != nil {
		return RecordList{}, err
	}

	columns, err := selectColumns(sch, p.Columns)
	if err != nil {
		return RecordList{}, err
	}

	where, args, err := compileFilter(p.Filter, filterColumn(sch))
	if err != nil {
		return RecordList{}, err
	}
	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quoteIdent(sch.LogicalName), whereClause)
	if err := q.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return RecordList{}, fmt.Errorf("count: %w", err)
	}

	orderClause, err := orderBy(p.Sort, func(attr string) (string, bool) {
		if _, ok := sch.Attributes[attr]; ok {
			return quoteIdent(attr), true
		}
		return "", false
	})
	if err != nil {
		return RecordList{}, err
	}
	if orderClause == "" {
		orderClause = " ORDER BY " + quoteIdent(sch.IDAttribute)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s%s%s",
		joinIdents(columns), quoteIdent(sch.LogicalName), whereClause, orderClause, limitClause(p.Limit, p.Offset))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return RecordList{}, fmt.Errorf("select: %w", err)
	}
	records, err := scanRecords(rows, sch, columns)
	if err != nil {
		return RecordList{}, err
	}

	for _, record := range records {
		if err := s.expand(ctx, q, sch, record, p.Expand); err != nil {
			return RecordList{}, err
		}
	}

	if records == nil {
		records = []Record{}
	}
	return RecordList{Records: records, Total: total}, nil
}

// RetrieveAggregate evaluates an aggregate query.
func (s *SQLiteStore) RetrieveAggregate(ctx context.Context, sess Session, p AggregateParams) ([]Record, error) {
	sch, err := s.stored(p.LogicalName)
	if err != nil {
		return nil, err
	}
	q, err := s.Querier(sess)
	if err != nil {
		return nil, err
	}

	if len(p.Attributes) == 0 {
		return nil, fmt.Errorf("aggregate on %s requires at least one attribute", sch.LogicalName)
	}

	var selects []string
	names := make(map[string]bool)
	for _, g := range p.GroupBy {
		if !sch.HasAttribute(g) {
			return nil, fmt.Errorf("%w: group by %s.%s", ErrUnknownAttribute, sch.LogicalName, g)
		}
		selects = append(selects, quoteIdent(g))
		names[g] = true
	}

	for _, a := range p.Attributes {
		expr, err := aggregateExpr(sch, a)
		if err != nil {
			return nil, err
		}
		selects = append(selects, expr+" AS "+quoteIdent(a.Name()))
		names[a.Name()] = true
	}

	where, args, err := compileFilter(p.Filter, filterColumn(sch))
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), quoteIdent(sch.LogicalName))
	if where != "" {
		query += " WHERE " + where
	}
	if len(p.GroupBy) > 0 {
		query += " GROUP BY " + joinIdents(p.GroupBy)
	}

	orderClause, err := orderBy(p.OrderBy, func(name string) (string, bool) {
		if names[name] {
			return quoteIdent(name), true
		}
		return "", false
	})
	if err != nil {
		return nil, err
	}
	query += orderClause + limitClause(p.Limit, 0)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			if attr, ok := sch.Attributes[col]; ok && i < len(p.GroupBy) {
				record[col] = fromDB(attr, values[i])
				continue
			}
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		results = append(results, record)
	}

	return results, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) stored(name string) (schema.Schema, error) {
	s.mu.RLock()
	sch, ok := s.schemas[name]
	s.mu.RUnlock()

	if !ok {
		return schema.Schema{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	if sch.Virtual {
		return schema.Schema{}, fmt.Errorf("entity %q is virtual and has no storage", name)
	}
	return sch, nil
}

// expand attaches the referenced records of the named lookup attributes
// under ExpandKey.
func (s *SQLiteStore) expand(ctx context.Context, q Querier, sch schema.Schema, record Record, attrs []string) error {
	if len(attrs) == 0 {
		return nil
	}

	expanded := make(map[string]Record, len(attrs))
	for _, name := range attrs {
		attr, ok := sch.Attributes[name]
		if !ok || attr.Type != schema.TypeLookup {
			return fmt.Errorf("expand %s.%s: not a lookup attribute", sch.LogicalName, name)
		}
		ref := idString(record[name])
		if ref == "" {
			continue
		}
		target, err := s.stored(attr.Entity)
		if err != nil {
			return err
		}
		columns, _ := selectColumns(target, nil)
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
			joinIdents(columns), quoteIdent(target.LogicalName), quoteIdent(target.IDAttribute))
		rows, err := q.QueryContext(ctx, query, ref)
		if err != nil {
			return fmt.Errorf("expand %s: %w", name, err)
		}
		found, err := scanRecords(rows, target, columns)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			expanded[name] = found[0]
		}
	}

	record[ExpandKey] = expanded
	return nil
}

// validateReferences checks that referenced records exist.
func (s *SQLiteStore) validateReferences(ctx context.Context, q Querier, sch schema.Schema, data Record) error {
	for _, name := range sortedKeys(data) {
		attr, ok := sch.Attributes[name]
		if !ok || attr.Type != schema.TypeLookup {
			continue
		}

		ref := idString(data[name])
		if ref == "" {
			continue
		}

		target, err := s.stored(attr.Entity)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}

		var count int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", quoteIdent(target.LogicalName), quoteIdent(target.IDAttribute))
		if err := q.QueryRowContext(ctx, query, ref).Scan(&count); err != nil {
			return fmt.Errorf("check reference for attribute %q: %w", name, err)
		}

		if count == 0 {
			return fmt.Errorf("%w: %s %q (attribute: %s)", ErrInvalidReference, target.LogicalName, ref, name)
		}
	}

	return nil
}

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionCommitted
	sessionAborted
	sessionEnded
)

// sqliteSession wraps one transaction.
type sqliteSession struct {
	store *SQLiteStore
	tx    *sql.Tx

	mu    sync.Mutex
	state sessionState
}

func (ss *sqliteSession) Commit(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.state != sessionOpen {
		return ErrSessionClosed
	}
	if err := ss.tx.Commit(); err != nil {
		// the transaction is finished either way
		ss.state = sessionAborted
		return fmt.Errorf("commit: %w", err)
	}
	ss.state = sessionCommitted
	return nil
}

func (ss *sqliteSession) Abort(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	switch ss.state {
	case sessionOpen:
		ss.state = sessionAborted
		if err := ss.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("abort: %w", err)
		}
		return nil
	case sessionAborted:
		return nil
	default:
		return ErrSessionClosed
	}
}

func (ss *sqliteSession) End(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	switch ss.state {
	case sessionEnded:
		return ErrSessionClosed
	case sessionOpen:
		// ended without commit or abort: discard
		ss.store.logger.Warn().Msg("session ended while open, rolling back")
		_ = ss.tx.Rollback()
	}
	ss.state = sessionEnded
	return nil
}

// uuidV7 generates time-ordered UUIDs.
type uuidV7 struct{}

func (uuidV7) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Backend = (*SQLiteStore)(nil)
