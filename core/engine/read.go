package engine

import (
	"context"
	"fmt"

	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
)

// read runs a retrieve request without a session. The caller's data filter
// is ANDed into every query.
func (e *Engine) read(ctx context.Context, sch schema.Schema, req Request) (Result, error) {
	filter, err := e.readFilter(ctx, sch)
	if err != nil {
		return Result{}, err
	}

	switch r := req.(type) {
	case RetrieveRecord:
		p := storage.RetrieveRecordParams(r)
		p.Filter = datafilter.And(p.Filter, filter)
		record, err := e.backend.RetrieveRecord(ctx, nil, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Record: record}, nil

	case RetrieveRecords:
		p := storage.RetrieveRecordsParams(r)
		p.Filter = datafilter.And(p.Filter, filter)
		list, err := e.backend.RetrieveRecords(ctx, nil, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Records: list.Records, Total: list.Total}, nil

	case RetrieveAggregate:
		p := storage.AggregateParams(r)
		p.Filter = datafilter.And(p.Filter, filter)
		rows, err := e.backend.RetrieveAggregate(ctx, nil, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Rows: rows}, nil

	default:
		return Result{}, fmt.Errorf("%w: unsupported request %T", ErrBadRequest, req)
	}
}
