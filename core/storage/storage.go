// Package storage defines the backend contract the mutation engine drives
// and provides a SQLite implementation of it.
//
// A Backend performs reads and writes for registered entities. Writes run
// inside a Session obtained from BeginSession; the engine treats the
// session as an opaque handle and only commits, aborts and ends it.
package storage

import (
	"context"
	"errors"
)

// Storage errors.
var (
	ErrNotFound       = errors.New("record not found")
	ErrSessionClosed  = errors.New("session is closed")
	ErrForeignSession = errors.New("session does not belong to this backend")
	ErrUnknownEntity  = errors.New("entity not registered with backend")
)

// ExpandKey is the record key under which expanded lookups are returned.
const ExpandKey = "_expanded"

// Record is a single entity record keyed by attribute name.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordList is a page of records together with the total match count.
type RecordList struct {
	Records []Record `json:"records"`
	Total   int64    `json:"total"`
}

// Session is a transactional handle spanning one write request.
// Exactly one of Commit or Abort is called, then End.
type Session interface {
	// Commit makes the session's writes durable.
	Commit(ctx context.Context) error

	// Abort discards the session's writes.
	Abort(ctx context.Context) error

	// End releases the session. It is always the last call.
	End(ctx context.Context) error
}

// Backend performs storage operations for registered entities. Read
// operations accept a nil session; writes always run in one.
type Backend interface {
	// BeginSession opens a transactional session. A backend that fails
	// after partially opening the session returns the handle alongside the
	// error so the caller can terminate it.
	BeginSession(ctx context.Context) (Session, error)

	// RetrieveRecord returns one record or ErrNotFound.
	RetrieveRecord(ctx context.Context, sess Session, p RetrieveRecordParams) (Record, error)

	// RetrieveRecords returns a filtered, sorted page of records.
	RetrieveRecords(ctx context.Context, sess Session, p RetrieveRecordsParams) (RecordList, error)

	// RetrieveAggregate evaluates an aggregate query.
	RetrieveAggregate(ctx context.Context, sess Session, p AggregateParams) ([]Record, error)

	// CreateRecord inserts a record and returns its id.
	CreateRecord(ctx context.Context, sess Session, p CreateRecordParams) (string, error)

	// UpdateRecord modifies a record and returns its id.
	UpdateRecord(ctx context.Context, sess Session, p UpdateRecordParams) (string, error)

	// DeleteRecord removes a record.
	DeleteRecord(ctx context.Context, sess Session, p DeleteRecordParams) error
}

// RetrieveRecordParams selects one record by id.
type RetrieveRecordParams struct {
	LogicalName string   `json:"logicalName"`
	ID          string   `json:"id"`
	Columns     []string `json:"columns,omitempty"`
	Expand      []string `json:"expand,omitempty"`

	// Filter is ANDed with the id match. Set by the engine from the data
	// filter; never decoded from requests.
	Filter *Filter `json:"-"`
}

// RetrieveRecordsParams selects a page of records.
type RetrieveRecordsParams struct {
	LogicalName string   `json:"logicalName"`
	Columns     []string `json:"columns,omitempty"`
	Filter      *Filter  `json:"filter,omitempty"`
	Sort        []Sort   `json:"sort,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Offset      int      `json:"offset,omitempty"`
	Expand      []string `json:"expand,omitempty"`
}

// Sort orders results by one attribute.
type Sort struct {
	Attribute  string `json:"attribute"`
	Descending bool   `json:"descending,omitempty"`
}

// AggregateFunction is an aggregate applied to an attribute.
type AggregateFunction string

const (
	AggregateCount AggregateFunction = "count"
	AggregateSum   AggregateFunction = "sum"
	AggregateAvg   AggregateFunction = "avg"
	AggregateMin   AggregateFunction = "min"
	AggregateMax   AggregateFunction = "max"
)

// AggregateAttribute is one computed column of an aggregate query. An
// empty Attribute with count counts rows.
type AggregateAttribute struct {
	Attribute string            `json:"attribute,omitempty"`
	Function  AggregateFunction `json:"function"`
	Alias     string            `json:"alias,omitempty"`
}

// Name returns the result column name of the aggregate.
func (a AggregateAttribute) Name() string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Attribute == "" {
		return string(a.Function)
	}
	return string(a.Function) + "_" + a.Attribute
}

// AggregateParams is an aggregate query over one entity.
type AggregateParams struct {
	LogicalName string               `json:"logicalName"`
	Attributes  []AggregateAttribute `json:"attributes"`
	GroupBy     []string             `json:"groupBy,omitempty"`
	OrderBy     []Sort               `json:"orderBy,omitempty"`
	Filter      *Filter              `json:"filter,omitempty"`
	Limit       int                  `json:"limit,omitempty"`
}

// CreateRecordParams inserts a record.
type CreateRecordParams struct {
	LogicalName string `json:"logicalName"`
	Data        Record `json:"data"`
}

// UpdateRecordParams updates a record by id.
type UpdateRecordParams struct {
	LogicalName string `json:"logicalName"`
	ID          string `json:"id"`
	Data        Record `json:"data"`
}

// DeleteRecordParams deletes a record by id.
type DeleteRecordParams struct {
	LogicalName string `json:"logicalName"`
	ID          string `json:"id"`
}
