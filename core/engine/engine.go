// Package engine executes requests against registered entities.
//
// Every request is validated against its entity schema first. Reads go
// straight to the backend. Writes run inside a backend session:
//
//	begin -> pipeline -> commit | abort -> end
//
// Commit and abort are mutually exclusive and end is always called exactly
// once, whatever the pipeline does. The pipeline resolves defaults and
// auto-numbers, computes changed values and runs plugin steps at the
// preValidation, preOperation and postOperation stages around the storage
// write.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/defaults"
	"github.com/artpar/entitysdk/core/dependency"
	"github.com/artpar/entitysdk/core/events"
	"github.com/artpar/entitysdk/core/plugin"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/artpar/entitysdk/ports"
	"github.com/rs/zerolog"
)

// Recorder receives execution and session observations.
type Recorder interface {
	RecordExecution(kind, entity, outcome string, duration time.Duration)
	RecordSession(outcome string)
}

// Config configures an Engine. Registry and Backend are required.
type Config struct {
	Registry ports.SchemaRegistry
	Backend  storage.Backend

	// Plugins defaults to an empty store.
	Plugins *plugin.Store

	// Defaults defaults to a resolver without an auto-number provider.
	Defaults *defaults.Resolver

	// Filters composes read filters; nil leaves reads unfiltered.
	Filters *datafilter.Composer

	// Dependents defaults to an index over Registry.
	Dependents *dependency.Index

	// Clock stamps created and updated attributes.
	Clock ports.Clock

	// Events receives record events after commit; nil disables them.
	Events *events.Bus

	Recorder Recorder
	Logger   zerolog.Logger
}

// Engine executes requests.
type Engine struct {
	registry   ports.SchemaRegistry
	backend    storage.Backend
	plugins    *plugin.Store
	defaults   *defaults.Resolver
	filters    *datafilter.Composer
	dependents *dependency.Index
	clock      ports.Clock
	events     *events.Bus
	recorder   Recorder
	logger     zerolog.Logger
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New creates an engine.
func New(cfg Config) *Engine {
	e := &Engine{
		registry:   cfg.Registry,
		backend:    cfg.Backend,
		plugins:    cfg.Plugins,
		defaults:   cfg.Defaults,
		filters:    cfg.Filters,
		dependents: cfg.Dependents,
		clock:      cfg.Clock,
		events:     cfg.Events,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
	}

	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.plugins == nil {
		e.plugins = plugin.NewStore(cfg.Logger, nil)
		e.plugins.Freeze()
	}
	if e.defaults == nil {
		e.defaults = defaults.New(e.clock, nil)
	}
	if e.dependents == nil {
		e.dependents = dependency.NewIndex(cfg.Registry)
	}

	return e
}

// Execute validates and runs one request.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	var result Result
	var err error
	var kind, entity string

	if r, ok := canonical(req); ok {
		kind, entity = string(r.Kind()), r.Entity()
		result, err = e.execute(ctx, r)
	} else {
		err = fmt.Errorf("%w: unsupported request %T", ErrBadRequest, req)
	}
	outcome := outcomeOf(err)
	duration := time.Since(start)

	if e.recorder != nil {
		e.recorder.RecordExecution(kind, entity, outcome, duration)
	}

	e.logger.Debug().
		Str("kind", kind).
		Str("entity", entity).
		Str("outcome", outcome).
		Dur("duration", duration).
		Err(err).
		Msg("executed request")

	return result, err
}

func (e *Engine) execute(ctx context.Context, req Request) (Result, error) {
	sch, err := e.validate(req)
	if err != nil {
		return Result{}, err
	}

	if !req.Kind().IsWrite() {
		return e.read(ctx, sch, req)
	}

	return e.inSession(ctx, func(ctx context.Context, sess storage.Session) (Result, error) {
		switch r := req.(type) {
		case CreateRecord:
			return e.createRecord(ctx, sess, sch, storage.CreateRecordParams(r))
		case UpdateRecord:
			filter, err := e.readFilter(ctx, sch)
			if err != nil {
				return Result{}, err
			}
			return e.updateRecord(ctx, sess, sch, storage.UpdateRecordParams(r), filter)
		case DeleteRecord:
			filter, err := e.readFilter(ctx, sch)
			if err != nil {
				return Result{}, err
			}
			return e.deleteRecord(ctx, sess, sch, r.ID, filter, make(map[string]bool))
		default:
			return Result{}, fmt.Errorf("%w: unsupported request %T", ErrBadRequest, req)
		}
	})
}

// validate resolves the entity schema and checks its restrictions. No
// session exists yet, so nothing needs cleaning up on failure.
func (e *Engine) validate(req Request) (schema.Schema, error) {
	name := req.Entity()
	sch, ok := e.registry.GetSchema(name)
	if !ok {
		return schema.Schema{}, fmt.Errorf("%w: unknown entity %q", ErrBadRequest, name)
	}

	forbidden := func(op string) error {
		return fmt.Errorf("%w: %s is not allowed on %q", ErrForbidden, op, name)
	}

	switch req.Kind() {
	case KindCreateRecord:
		if sch.Restrictions.DisableCreate || sch.Virtual {
			return sch, forbidden("create")
		}
	case KindUpdateRecord:
		if sch.Restrictions.DisableUpdate || sch.Virtual {
			return sch, forbidden("update")
		}
	case KindDeleteRecord:
		if sch.Restrictions.DisableDelete || sch.Virtual {
			return sch, forbidden("delete")
		}
	case KindRetrieveRecords:
		if sch.Restrictions.DisableIndex {
			return sch, forbidden("index")
		}
	case KindRetrieveRecord, KindRetrieveAggregate:
	default:
		return sch, fmt.Errorf("%w: unknown request kind %q", ErrBadRequest, req.Kind())
	}

	return sch, nil
}

// inSession runs fn in a new backend session. The session is committed
// when fn succeeds and aborted otherwise, then always ended once. Events
// queued by fn are published only after a successful commit.
func (e *Engine) inSession(ctx context.Context, fn func(ctx context.Context, sess storage.Session) (Result, error)) (Result, error) {
	// session teardown must run even when the request is cancelled
	cleanupCtx := context.WithoutCancel(ctx)

	sess, err := e.backend.BeginSession(ctx)
	if err != nil {
		e.recordSession(SessionBeginFailed)
		if sess != nil {
			// partially opened: terminate it
			e.abort(cleanupCtx, sess, err)
			e.end(cleanupCtx, sess)
		}
		return Result{}, err
	}
	defer e.end(cleanupCtx, sess)

	outbox := &events.Outbox{}

	defer func() {
		if p := recover(); p != nil {
			e.abort(cleanupCtx, sess, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	result, err := fn(events.WithOutbox(ctx, outbox), sess)
	if err != nil {
		e.abort(cleanupCtx, sess, err)
		return Result{}, err
	}

	if err := sess.Commit(ctx); err != nil {
		e.recordSession(SessionCommitFailed)
		e.logger.Warn().Err(err).Msg("session commit failed")
		return Result{}, err
	}
	e.recordSession(SessionCommitted)

	if e.events != nil {
		outbox.Flush(cleanupCtx, e.events)
	}

	return result, nil
}

func (e *Engine) abort(ctx context.Context, sess storage.Session, cause error) {
	e.recordSession(SessionAborted)
	e.logger.Warn().Err(cause).Msg("aborting session")

	if err := sess.Abort(ctx); err != nil {
		e.logger.Error().Err(err).Msg("session abort failed")
	}
}

func (e *Engine) end(ctx context.Context, sess storage.Session) {
	if err := sess.End(ctx); err != nil {
		e.logger.Error().Err(err).Msg("session end failed")
	}
}

func (e *Engine) recordSession(outcome string) {
	if e.recorder != nil {
		e.recorder.RecordSession(outcome)
	}
}

// readFilter composes the data filter of the caller stored in ctx.
func (e *Engine) readFilter(ctx context.Context, sch schema.Schema) (*storage.Filter, error) {
	return e.filters.Compose(ctx, datafilter.Params{
		LogicalName: sch.LogicalName,
		Schema:      sch,
		Caller:      datafilter.CallerFrom(ctx),
	})
}
