package engine

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/entitysdk/core/storage"
)

// Kind is the operation a request performs.
type Kind string

const (
	KindRetrieveRecord    Kind = "retrieveRecord"
	KindRetrieveRecords   Kind = "retrieveRecords"
	KindRetrieveAggregate Kind = "retrieveAggregate"
	KindCreateRecord      Kind = "createRecord"
	KindUpdateRecord      Kind = "updateRecord"
	KindDeleteRecord      Kind = "deleteRecord"
)

// IsWrite reports whether the kind runs inside a session.
func (k Kind) IsWrite() bool {
	return k == KindCreateRecord || k == KindUpdateRecord || k == KindDeleteRecord
}

// Request is one operation against an entity.
type Request interface {
	Kind() Kind

	// Entity returns the logical name of the target entity.
	Entity() string
}

// RetrieveRecord reads one record by id.
type RetrieveRecord storage.RetrieveRecordParams

// RetrieveRecords reads a page of records.
type RetrieveRecords storage.RetrieveRecordsParams

// RetrieveAggregate runs an aggregate query.
type RetrieveAggregate storage.AggregateParams

// CreateRecord inserts a record.
type CreateRecord storage.CreateRecordParams

// UpdateRecord modifies a record.
type UpdateRecord storage.UpdateRecordParams

// DeleteRecord removes a record.
type DeleteRecord storage.DeleteRecordParams

func (RetrieveRecord) Kind() Kind    { return KindRetrieveRecord }
func (RetrieveRecords) Kind() Kind   { return KindRetrieveRecords }
func (RetrieveAggregate) Kind() Kind { return KindRetrieveAggregate }
func (CreateRecord) Kind() Kind      { return KindCreateRecord }
func (UpdateRecord) Kind() Kind      { return KindUpdateRecord }
func (DeleteRecord) Kind() Kind      { return KindDeleteRecord }

func (r RetrieveRecord) Entity() string    { return r.LogicalName }
func (r RetrieveRecords) Entity() string   { return r.LogicalName }
func (r RetrieveAggregate) Entity() string { return r.LogicalName }
func (r CreateRecord) Entity() string      { return r.LogicalName }
func (r UpdateRecord) Entity() string      { return r.LogicalName }
func (r DeleteRecord) Entity() string      { return r.LogicalName }

// canonical returns req as one of the request value types. Pointers are
// dereferenced; nil and foreign implementations are rejected.
func canonical(req Request) (Request, bool) {
	switch r := req.(type) {
	case RetrieveRecord, RetrieveRecords, RetrieveAggregate, CreateRecord, UpdateRecord, DeleteRecord:
		return r, true
	case *RetrieveRecord:
		if r != nil {
			return *r, true
		}
	case *RetrieveRecords:
		if r != nil {
			return *r, true
		}
	case *RetrieveAggregate:
		if r != nil {
			return *r, true
		}
	case *CreateRecord:
		if r != nil {
			return *r, true
		}
	case *UpdateRecord:
		if r != nil {
			return *r, true
		}
	case *DeleteRecord:
		if r != nil {
			return *r, true
		}
	}
	return nil, false
}

// Envelope is the serialized form of a request.
type Envelope struct {
	Type   Kind            `json:"type"`
	Params json.RawMessage `json:"params"`
}

// DecodeRequest decodes an envelope into a Request. Unknown types and
// malformed params are bad requests.
func DecodeRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrBadRequest, err)
	}
	if len(env.Params) == 0 {
		return nil, fmt.Errorf("%w: missing params", ErrBadRequest)
	}

	var req Request
	var err error
	switch env.Type {
	case KindRetrieveRecord:
		var r RetrieveRecord
		err = json.Unmarshal(env.Params, &r)
		req = r
	case KindRetrieveRecords:
		var r RetrieveRecords
		err = json.Unmarshal(env.Params, &r)
		req = r
	case KindRetrieveAggregate:
		var r RetrieveAggregate
		err = json.Unmarshal(env.Params, &r)
		req = r
	case KindCreateRecord:
		var r CreateRecord
		err = json.Unmarshal(env.Params, &r)
		req = r
	case KindUpdateRecord:
		var r UpdateRecord
		err = json.Unmarshal(env.Params, &r)
		req = r
	case KindDeleteRecord:
		var r DeleteRecord
		err = json.Unmarshal(env.Params, &r)
		req = r
	default:
		return nil, fmt.Errorf("%w: unknown request type %q", ErrBadRequest, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s params: %v", ErrBadRequest, env.Type, err)
	}

	return req, nil
}

// Result is the outcome of a request. Only the fields of the request's
// kind are set.
type Result struct {
	// ID is set by create, update and delete.
	ID string `json:"id,omitempty"`

	// Record is set by retrieveRecord.
	Record storage.Record `json:"record,omitempty"`

	// Records and Total are set by retrieveRecords.
	Records []storage.Record `json:"records,omitempty"`
	Total   int64            `json:"total,omitempty"`

	// Rows is set by retrieveAggregate.
	Rows []storage.Record `json:"rows,omitempty"`

	// Meta carries values plugin steps left for the caller.
	Meta map[string]any `json:"meta,omitempty"`
}
