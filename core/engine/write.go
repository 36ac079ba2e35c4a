package engine

import (
	"context"
	"fmt"

	"github.com/artpar/entitysdk/core/autonumber"
	"github.com/artpar/entitysdk/core/changes"
	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/defaults"
	"github.com/artpar/entitysdk/core/events"
	"github.com/artpar/entitysdk/core/plugin"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
)

func (e *Engine) createRecord(ctx context.Context, sess storage.Session, sch schema.Schema, p storage.CreateRecordParams) (Result, error) {
	data := p.Data.Clone()
	if data == nil {
		data = make(storage.Record)
	}

	for name, value := range e.defaults.SchemaDefaults(sch) {
		if _, ok := data[name]; !ok {
			data[name] = value
		}
	}

	for _, name := range defaults.AutoNumberAttributes(sch) {
		if data[name] != nil {
			continue
		}
		n, err := e.defaults.ResolveAutoNumber(ctx, autonumber.Params{
			LogicalName:   sch.LogicalName,
			AttributeName: name,
			Attribute:     sch.Attributes[name],
			Session:       sess,
			MarkAsUsed:    true,
		})
		if err != nil {
			return Result{}, err
		}
		data[name] = n
	}

	now := e.clock.Now()
	if sch.HasAttribute(sch.CreatedAtAttribute) {
		data[sch.CreatedAtAttribute] = now
	}
	if sch.HasAttribute(sch.UpdatedAtAttribute) {
		data[sch.UpdatedAtAttribute] = now
	}

	pc := e.pluginContext(ctx, sess, sch, plugin.MessageCreate, idOf(sch, data), data, nil)

	if err := e.preStages(ctx, pc); err != nil {
		return Result{}, err
	}

	id, err := e.backend.CreateRecord(ctx, sess, storage.CreateRecordParams{
		LogicalName: sch.LogicalName,
		Data:        pc.Data,
	})
	if err != nil {
		return Result{}, err
	}
	pc.ID = id

	if err := e.stage(ctx, pc, plugin.StagePostOperation); err != nil {
		return Result{}, err
	}

	e.emit(ctx, pc, "created")
	return Result{ID: id, Meta: pc.Meta}, nil
}

// updateRecord loads the current record inside the session, diffs it
// against the request data and writes the changes. filter limits which
// records the caller may update; nil for cascaded updates.
func (e *Engine) updateRecord(ctx context.Context, sess storage.Session, sch schema.Schema, p storage.UpdateRecordParams, filter *storage.Filter) (Result, error) {
	snapshot, err := e.backend.RetrieveRecord(ctx, sess, storage.RetrieveRecordParams{
		LogicalName: sch.LogicalName,
		ID:          p.ID,
		Filter:      filter,
	})
	if err != nil {
		return Result{}, err
	}

	data := p.Data.Clone()
	if data == nil {
		data = make(storage.Record)
	}
	// engine-owned attributes
	delete(data, sch.IDAttribute)
	delete(data, sch.CreatedAtAttribute)

	if sch.HasAttribute(sch.UpdatedAtAttribute) {
		data[sch.UpdatedAtAttribute] = e.clock.Now()
	}

	pc := e.pluginContext(ctx, sess, sch, plugin.MessageUpdate, p.ID, data, snapshot)

	if err := e.preStages(ctx, pc); err != nil {
		return Result{}, err
	}

	id, err := e.backend.UpdateRecord(ctx, sess, storage.UpdateRecordParams{
		LogicalName: sch.LogicalName,
		ID:          p.ID,
		Data:        pc.Data,
	})
	if err != nil {
		return Result{}, err
	}

	if err := e.stage(ctx, pc, plugin.StagePostOperation); err != nil {
		return Result{}, err
	}

	e.emit(ctx, pc, "updated")
	return Result{ID: id, Meta: pc.Meta}, nil
}

// deleteRecord removes a record after applying the behavior of every
// dependent lookup. visiting holds the records already being deleted in
// this request so reference cycles terminate.
func (e *Engine) deleteRecord(ctx context.Context, sess storage.Session, sch schema.Schema, id string, filter *storage.Filter, visiting map[string]bool) (Result, error) {
	snapshot, err := e.backend.RetrieveRecord(ctx, sess, storage.RetrieveRecordParams{
		LogicalName: sch.LogicalName,
		ID:          id,
		Filter:      filter,
	})
	if err != nil {
		return Result{}, err
	}
	visiting[sch.LogicalName+":"+id] = true

	pc := e.pluginContext(ctx, sess, sch, plugin.MessageDelete, id, nil, snapshot)

	if err := e.stage(ctx, pc, plugin.StagePreValidation); err != nil {
		return Result{}, err
	}

	if err := e.applyDependents(ctx, sess, sch, id, visiting); err != nil {
		return Result{}, err
	}

	if err := e.stage(ctx, pc, plugin.StagePreOperation); err != nil {
		return Result{}, err
	}

	if err := e.backend.DeleteRecord(ctx, sess, storage.DeleteRecordParams{
		LogicalName: sch.LogicalName,
		ID:          id,
	}); err != nil {
		return Result{}, err
	}

	if err := e.stage(ctx, pc, plugin.StagePostOperation); err != nil {
		return Result{}, err
	}

	e.emit(ctx, pc, "deleted")
	return Result{ID: id, Meta: pc.Meta}, nil
}

// applyDependents enforces the lookup behaviors that reference the record
// being deleted: restrict blocks the delete, cascade deletes the
// referencing records and setNull clears the reference.
func (e *Engine) applyDependents(ctx context.Context, sess storage.Session, sch schema.Schema, id string, visiting map[string]bool) error {
	for _, dep := range e.dependents.FindDependents(sch) {
		if dep.Behavior == schema.BehaviorNone {
			continue
		}

		depSchema, ok := e.registry.GetSchema(dep.SchemaLogicalName)
		if !ok || depSchema.Virtual {
			continue
		}

		list, err := e.backend.RetrieveRecords(ctx, sess, storage.RetrieveRecordsParams{
			LogicalName: depSchema.LogicalName,
			Columns:     []string{depSchema.IDAttribute},
			Filter:      storage.Eq(dep.AttributeName, id),
		})
		if err != nil {
			return err
		}

		var refs []string
		for _, rec := range list.Records {
			ref := fmt.Sprint(rec[depSchema.IDAttribute])
			if !visiting[depSchema.LogicalName+":"+ref] {
				refs = append(refs, ref)
			}
		}
		if len(refs) == 0 {
			continue
		}

		switch dep.Behavior {
		case schema.BehaviorRestrict:
			return fmt.Errorf("%w: %d %s record(s) reference %s %s through %s",
				ErrRestricted, len(refs), depSchema.LogicalName, sch.LogicalName, id, dep.AttributeName)

		case schema.BehaviorCascade:
			if depSchema.Restrictions.DisableDelete {
				return fmt.Errorf("%w: cascade delete is not allowed on %q", ErrForbidden, depSchema.LogicalName)
			}
			for _, ref := range refs {
				if visiting[depSchema.LogicalName+":"+ref] {
					continue
				}
				if _, err := e.deleteRecord(ctx, sess, depSchema, ref, nil, visiting); err != nil {
					return err
				}
			}

		case schema.BehaviorSetNull:
			if depSchema.Restrictions.DisableUpdate {
				return fmt.Errorf("%w: set null is not allowed on %q", ErrForbidden, depSchema.LogicalName)
			}
			for _, ref := range refs {
				if _, err := e.updateRecord(ctx, sess, depSchema, storage.UpdateRecordParams{
					LogicalName: depSchema.LogicalName,
					ID:          ref,
					Data:        storage.Record{dep.AttributeName: nil},
				}, nil); err != nil {
					return err
				}
			}
		}

		e.logger.Debug().
			Str("entity", sch.LogicalName).
			Str("id", id).
			Str("dependent", depSchema.LogicalName).
			Str("attribute", dep.AttributeName).
			Str("behavior", string(dep.Behavior)).
			Int("records", len(refs)).
			Msg("applied dependent behavior")
	}

	return nil
}

func (e *Engine) pluginContext(ctx context.Context, sess storage.Session, sch schema.Schema, msg plugin.Message, id string, data, snapshot storage.Record) *plugin.Context {
	return &plugin.Context{
		Entity:        sch.LogicalName,
		Message:       msg,
		ID:            id,
		Data:          data,
		Snapshot:      snapshot,
		ChangedValues: changes.Diff(snapshot, data),
		Schema:        sch,
		Backend:       e.backend,
		Session:       sess,
		Caller:        datafilter.CallerFrom(ctx),
		Meta:          make(map[string]any),
	}
}

// preStages runs preValidation then preOperation. Changed values are
// recomputed after each stage so later steps and events see the data as
// the previous stage left it.
func (e *Engine) preStages(ctx context.Context, pc *plugin.Context) error {
	if err := e.stage(ctx, pc, plugin.StagePreValidation); err != nil {
		return err
	}
	pc.ChangedValues = changes.Diff(pc.Snapshot, pc.Data)
	if err := e.stage(ctx, pc, plugin.StagePreOperation); err != nil {
		return err
	}
	pc.ChangedValues = changes.Diff(pc.Snapshot, pc.Data)
	return nil
}

func (e *Engine) stage(ctx context.Context, pc *plugin.Context, stage plugin.Stage) error {
	pc.Stage = stage
	return e.plugins.Execute(ctx, pc)
}

func (e *Engine) emit(ctx context.Context, pc *plugin.Context, verb string) {
	if e.events == nil {
		return
	}
	data := pc.Data
	if data == nil {
		data = pc.Snapshot
	}
	events.Emit(ctx, e.events, events.Event{
		Name:          pc.Entity + "." + verb,
		Entity:        pc.Entity,
		Message:       string(pc.Message),
		ID:            pc.ID,
		Data:          data,
		ChangedValues: pc.ChangedValues,
	})
}

func idOf(sch schema.Schema, data storage.Record) string {
	if v, ok := data[sch.IDAttribute].(string); ok {
		return v
	}
	return ""
}
