package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/artpar/entitysdk/adapters/clock"
	"github.com/artpar/entitysdk/core/autonumber"
	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/defaults"
	"github.com/artpar/entitysdk/core/events"
	"github.com/artpar/entitysdk/core/plugin"
	"github.com/artpar/entitysdk/core/registry"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// recordingBackend is an in-memory Backend that records every call.
type recordingBackend struct {
	calls   []string
	records map[string]storage.Record

	beginErr    error
	beginHandle bool // return a handle together with beginErr
	commitErr   error
	createErr   error

	lastRetrieve storage.RetrieveRecordParams
	lastList     storage.RetrieveRecordsParams
	lastCreate   storage.CreateRecordParams
	lastUpdate   storage.UpdateRecordParams

	nextID int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{records: make(map[string]storage.Record)}
}

func (b *recordingBackend) count(call string) int {
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *recordingBackend) sessionCalls() int {
	return b.count("begin") + b.count("commit") + b.count("abort") + b.count("end")
}

type recordingSession struct{ b *recordingBackend }

func (s *recordingSession) Commit(ctx context.Context) error {
	s.b.calls = append(s.b.calls, "commit")
	return s.b.commitErr
}

func (s *recordingSession) Abort(ctx context.Context) error {
	s.b.calls = append(s.b.calls, "abort")
	return nil
}

func (s *recordingSession) End(ctx context.Context) error {
	s.b.calls = append(s.b.calls, "end")
	return nil
}

func (b *recordingBackend) BeginSession(ctx context.Context) (storage.Session, error) {
	b.calls = append(b.calls, "begin")
	if b.beginErr != nil {
		if b.beginHandle {
			return &recordingSession{b: b}, b.beginErr
		}
		return nil, b.beginErr
	}
	return &recordingSession{b: b}, nil
}

func (b *recordingBackend) RetrieveRecord(ctx context.Context, sess storage.Session, p storage.RetrieveRecordParams) (storage.Record, error) {
	b.calls = append(b.calls, "retrieveRecord")
	b.lastRetrieve = p
	rec, ok := b.records[p.LogicalName+":"+p.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (b *recordingBackend) RetrieveRecords(ctx context.Context, sess storage.Session, p storage.RetrieveRecordsParams) (storage.RecordList, error) {
	b.calls = append(b.calls, "retrieveRecords")
	b.lastList = p
	return storage.RecordList{Records: []storage.Record{}, Total: 0}, nil
}

func (b *recordingBackend) RetrieveAggregate(ctx context.Context, sess storage.Session, p storage.AggregateParams) ([]storage.Record, error) {
	b.calls = append(b.calls, "retrieveAggregate")
	return []storage.Record{{"count": int64(0)}}, nil
}

func (b *recordingBackend) CreateRecord(ctx context.Context, sess storage.Session, p storage.CreateRecordParams) (string, error) {
	b.calls = append(b.calls, "createRecord")
	b.lastCreate = p
	if b.createErr != nil {
		return "", b.createErr
	}
	b.nextID++
	id := fmt.Sprintf("rec-%d", b.nextID)
	b.records[p.LogicalName+":"+id] = p.Data.Clone()
	return id, nil
}

func (b *recordingBackend) UpdateRecord(ctx context.Context, sess storage.Session, p storage.UpdateRecordParams) (string, error) {
	b.calls = append(b.calls, "updateRecord")
	b.lastUpdate = p
	rec, ok := b.records[p.LogicalName+":"+p.ID]
	if !ok {
		return "", storage.ErrNotFound
	}
	for k, v := range p.Data {
		rec[k] = v
	}
	return p.ID, nil
}

func (b *recordingBackend) DeleteRecord(ctx context.Context, sess storage.Session, p storage.DeleteRecordParams) error {
	b.calls = append(b.calls, "deleteRecord")
	delete(b.records, p.LogicalName+":"+p.ID)
	return nil
}

type countingRecorder struct {
	executions map[string]int
	sessions   map[string]int
}

func (r *countingRecorder) RecordExecution(kind, entity, outcome string, d time.Duration) {
	r.executions[outcome]++
}

func (r *countingRecorder) RecordSession(outcome string) {
	r.sessions[outcome]++
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	schemas := []schema.Schema{
		{
			LogicalName: "product",
			Attributes: map[string]schema.Attribute{
				"name":        {Type: schema.TypeString},
				"description": {Type: schema.TypeText},
				"price":       {Type: schema.TypeNumber},
				"status":      {Type: schema.TypeEnum, Values: []string{"draft", "live"}, Default: schema.Static("draft")},
				"sku":         {Type: schema.TypeString, AutoNumber: &schema.AutoNumber{Prefix: "P-", Width: 3}},
				"created_at":  {Type: schema.TypeDateTime},
				"updated_at":  {Type: schema.TypeDateTime},
			},
		},
		{
			LogicalName: "locked",
			Restrictions: schema.Restrictions{
				DisableCreate: true,
				DisableUpdate: true,
				DisableDelete: true,
				DisableIndex:  true,
			},
			Attributes: map[string]schema.Attribute{"name": {Type: schema.TypeString}},
		},
		{
			LogicalName: "summary",
			Virtual:     true,
			Attributes:  map[string]schema.Attribute{"total": {Type: schema.TypeNumber}},
		},
		{
			LogicalName: "note",
			Ownership:   schema.OwnershipUser,
			Attributes: map[string]schema.Attribute{
				"body":     {Type: schema.TypeText},
				"owner_id": {Type: schema.TypeString},
			},
		},
	}

	r := registry.New()
	for _, s := range schemas {
		require.NoError(t, r.Register(s))
	}
	require.NoError(t, r.Freeze())
	return r
}

type fixture struct {
	engine   *Engine
	backend  *recordingBackend
	plugins  *plugin.Store
	bus      *events.Bus
	recorder *countingRecorder
}

func newFixture(t *testing.T, steps ...plugin.Step) *fixture {
	t.Helper()

	backend := newRecordingBackend()
	plugins := plugin.NewStore(zerolog.Nop(), nil)
	for _, step := range steps {
		require.NoError(t, plugins.Register(step))
	}
	plugins.Freeze()

	fake := clock.NewFake(testNow)
	bus := events.NewBus(zerolog.Nop())
	rec := &countingRecorder{executions: map[string]int{}, sessions: map[string]int{}}

	e := New(Config{
		Registry: testRegistry(t),
		Backend:  backend,
		Plugins:  plugins,
		Defaults: defaults.New(fake, autonumber.NewMemory()),
		Filters:  datafilter.NewComposer(datafilter.OwnershipProvider{}),
		Clock:    fake,
		Events:   bus,
		Recorder: rec,
		Logger:   zerolog.Nop(),
	})

	return &fixture{engine: e, backend: backend, plugins: plugins, bus: bus, recorder: rec}
}

func TestExecute_ReadsNeverOpenSessions(t *testing.T) {
	f := newFixture(t)
	f.backend.records["product:p1"] = storage.Record{"id": "p1", "name": "Lamp"}
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, RetrieveRecord{LogicalName: "product", ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Lamp", res.Record["name"])

	_, err = f.engine.Execute(ctx, RetrieveRecords{LogicalName: "product", Limit: 10})
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, RetrieveAggregate{
		LogicalName: "product",
		Attributes:  []storage.AggregateAttribute{{Function: storage.AggregateCount}},
	})
	require.NoError(t, err)

	// retrieveRecord and retrieveAggregate carry no restriction check
	_, err = f.engine.Execute(ctx, RetrieveAggregate{LogicalName: "locked"})
	require.NoError(t, err)

	assert.Zero(t, f.backend.sessionCalls(), "calls = %v", f.backend.calls)
}

func TestExecute_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"nil request", nil, ErrBadRequest},
		{"nil pointer", (*CreateRecord)(nil), ErrBadRequest},
		{"unknown entity", CreateRecord{LogicalName: "ghost"}, ErrBadRequest},
		{"unknown kind", foreignRequest{}, ErrBadRequest},
		{"create disabled", CreateRecord{LogicalName: "locked"}, ErrForbidden},
		{"update disabled", UpdateRecord{LogicalName: "locked", ID: "x"}, ErrForbidden},
		{"delete disabled", DeleteRecord{LogicalName: "locked", ID: "x"}, ErrForbidden},
		{"index disabled", RetrieveRecords{LogicalName: "locked"}, ErrForbidden},
		{"create virtual", CreateRecord{LogicalName: "summary"}, ErrForbidden},
		{"update virtual", UpdateRecord{LogicalName: "summary", ID: "x"}, ErrForbidden},
		{"delete virtual", &DeleteRecord{LogicalName: "summary", ID: "x"}, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.engine.Execute(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.backend.calls, "validation failures must not reach the backend")
		})
	}
}

type foreignRequest struct{}

func (foreignRequest) Kind() Kind     { return "upsertRecord" }
func (foreignRequest) Entity() string { return "product" }

func TestExecute_CreateSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Execute(context.Background(), CreateRecord{
		LogicalName: "product",
		Data:        storage.Record{"name": "Lamp", "created_at": "ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", res.ID)

	assert.Equal(t, []string{"begin", "createRecord", "commit", "end"}, f.backend.calls)
	assert.Equal(t, 1, f.recorder.sessions[SessionCommitted])
	assert.Equal(t, 1, f.recorder.executions[OutcomeOK])

	data := f.backend.lastCreate.Data
	assert.Equal(t, "draft", data["status"], "static default applied")
	assert.Equal(t, "P-001", data["sku"], "auto-number resolved")
	assert.Equal(t, testNow, data["created_at"], "created stamp overrides request")
	assert.Equal(t, testNow, data["updated_at"])
}

func TestExecute_CreateKeepsProvidedValues(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Execute(context.Background(), CreateRecord{
		LogicalName: "product",
		Data:        storage.Record{"status": "live", "sku": "CUSTOM"},
	})
	require.NoError(t, err)

	assert.Equal(t, "live", f.backend.lastCreate.Data["status"])
	assert.Equal(t, "CUSTOM", f.backend.lastCreate.Data["sku"])
}

func TestExecute_WriteErrorAborts(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	f.backend.createErr = boom

	_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})

	assert.Same(t, boom, err, "storage errors are returned unchanged")
	assert.Equal(t, 1, f.backend.count("abort"))
	assert.Equal(t, 0, f.backend.count("commit"))
	assert.Equal(t, 1, f.backend.count("end"))
	assert.Equal(t, "end", f.backend.calls[len(f.backend.calls)-1])
	assert.Equal(t, 1, f.recorder.executions[OutcomeError])
}

func TestExecute_PluginErrorAborts(t *testing.T) {
	boom := errors.New("rejected by plugin")
	f := newFixture(t, plugin.Step{
		Entity:  "product",
		Message: plugin.MessageCreate,
		Stage:   plugin.StagePreOperation,
		Action: func(ctx context.Context, pc *plugin.Context) error {
			return boom
		},
	})

	_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})

	assert.Same(t, boom, err)
	assert.Equal(t, []string{"begin", "abort", "end"}, f.backend.calls)
}

func TestExecute_PostOperationErrorAborts(t *testing.T) {
	boom := errors.New("post failed")
	f := newFixture(t, plugin.Step{
		Message: plugin.MessageCreate,
		Stage:   plugin.StagePostOperation,
		Action: func(ctx context.Context, pc *plugin.Context) error {
			return boom
		},
	})

	_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})

	assert.Same(t, boom, err)
	assert.Equal(t, []string{"begin", "createRecord", "abort", "end"}, f.backend.calls)
}

func TestExecute_BeginFailure(t *testing.T) {
	boom := errors.New("pool exhausted")

	t.Run("no handle", func(t *testing.T) {
		f := newFixture(t)
		f.backend.beginErr = boom

		_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})

		assert.Same(t, boom, err)
		assert.Equal(t, []string{"begin"}, f.backend.calls)
	})

	t.Run("partial handle", func(t *testing.T) {
		f := newFixture(t)
		f.backend.beginErr = boom
		f.backend.beginHandle = true

		_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})

		assert.Same(t, boom, err)
		assert.Equal(t, []string{"begin", "abort", "end"}, f.backend.calls)
	})
}

func TestExecute_CommitFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("commit conflict")
	f.backend.commitErr = boom

	var published int
	f.bus.Subscribe("*", func(ctx context.Context, ev events.Event) error {
		published++
		return nil
	})

	_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})

	assert.Same(t, boom, err)
	assert.Equal(t, []string{"begin", "createRecord", "commit", "end"}, f.backend.calls)
	assert.Zero(t, published, "events of a failed commit are dropped")
}

func TestExecute_PanicAbortsAndEnds(t *testing.T) {
	f := newFixture(t, plugin.Step{
		Message: plugin.MessageCreate,
		Stage:   plugin.StagePreValidation,
		Action: func(ctx context.Context, pc *plugin.Context) error {
			panic("step exploded")
		},
	})

	assert.Panics(t, func() {
		f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product"})
	})
	assert.Equal(t, []string{"begin", "abort", "end"}, f.backend.calls)
}

func TestExecute_UpdateAttributeGating(t *testing.T) {
	var repriced, stages []string
	f := newFixture(t,
		plugin.Step{
			Entity:     "product",
			Message:    plugin.MessageUpdate,
			Stage:      plugin.StagePreOperation,
			Attributes: []string{"price"},
			Action: func(ctx context.Context, pc *plugin.Context) error {
				repriced = append(repriced, pc.ID)
				return nil
			},
		},
		plugin.Step{
			Message: plugin.MessageUpdate,
			Stage:   plugin.StagePreValidation,
			Action: func(ctx context.Context, pc *plugin.Context) error {
				stages = append(stages, string(pc.Stage))
				assert.NotNil(t, pc.Session, "steps run inside the session")
				assert.Equal(t, 10.0, pc.Snapshot["price"])
				return nil
			},
		},
	)
	f.backend.records["product:p1"] = storage.Record{"id": "p1", "price": 10.0, "description": "old"}
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, UpdateRecord{LogicalName: "product", ID: "p1", Data: storage.Record{"description": "new"}})
	require.NoError(t, err)
	assert.Empty(t, repriced, "price step ran when only description changed")

	f.backend.records["product:p1"]["price"] = 10.0
	_, err = f.engine.Execute(ctx, UpdateRecord{LogicalName: "product", ID: "p1", Data: storage.Record{"description": "newer", "price": 12}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, repriced)

	assert.Len(t, stages, 2)
	assert.Equal(t, testNow, f.backend.lastUpdate.Data["updated_at"])
	assert.Equal(t, 2, f.backend.count("commit"))
	assert.Equal(t, 2, f.backend.count("end"))
}

func TestExecute_UpdateMissingRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Execute(context.Background(), UpdateRecord{LogicalName: "product", ID: "nope", Data: storage.Record{"name": "x"}})

	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{"begin", "retrieveRecord", "abort", "end"}, f.backend.calls)
}

func TestExecute_PreValidationChangesGatePreOperation(t *testing.T) {
	var ran bool
	f := newFixture(t,
		plugin.Step{
			Message: plugin.MessageUpdate,
			Stage:   plugin.StagePreValidation,
			Action: func(ctx context.Context, pc *plugin.Context) error {
				pc.Data["price"] = 99.0
				return nil
			},
		},
		plugin.Step{
			Message:    plugin.MessageUpdate,
			Stage:      plugin.StagePreOperation,
			Attributes: []string{"price"},
			Action: func(ctx context.Context, pc *plugin.Context) error {
				ran = true
				return nil
			},
		},
	)
	f.backend.records["product:p1"] = storage.Record{"id": "p1", "price": 10.0}

	_, err := f.engine.Execute(context.Background(), UpdateRecord{LogicalName: "product", ID: "p1", Data: storage.Record{"name": "x"}})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 99.0, f.backend.lastUpdate.Data["price"])
}

func TestExecute_PreOperationChangesReachPostOperationAndEvents(t *testing.T) {
	var post any
	f := newFixture(t,
		plugin.Step{
			Message: plugin.MessageCreate,
			Stage:   plugin.StagePreOperation,
			Action: func(ctx context.Context, pc *plugin.Context) error {
				pc.Data["name"] = "masked"
				return nil
			},
		},
		plugin.Step{
			Message:    plugin.MessageCreate,
			Stage:      plugin.StagePostOperation,
			Attributes: []string{"name"},
			Action: func(ctx context.Context, pc *plugin.Context) error {
				post = pc.ChangedValues["name"].New
				return nil
			},
		},
	)

	var got []events.Event
	f.bus.Subscribe("product.created", func(ctx context.Context, ev events.Event) error {
		got = append(got, ev)
		return nil
	})

	_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product", Data: storage.Record{"name": "plain"}})
	require.NoError(t, err)

	assert.Equal(t, "masked", post)
	require.Len(t, got, 1)
	assert.Equal(t, "masked", got[0].ChangedValues["name"].New)
}

func TestExecute_DeleteRunsAttributeScopedSteps(t *testing.T) {
	var ran int
	f := newFixture(t, plugin.Step{
		Message:    plugin.MessageDelete,
		Stage:      plugin.StagePreOperation,
		Attributes: []string{"price"},
		Action: func(ctx context.Context, pc *plugin.Context) error {
			ran++
			return nil
		},
	})
	f.backend.records["product:p1"] = storage.Record{"id": "p1"}

	_, err := f.engine.Execute(context.Background(), DeleteRecord{LogicalName: "product", ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, f.backend.count("deleteRecord"))
}

func TestExecute_EventsAfterCommit(t *testing.T) {
	f := newFixture(t)

	var got []events.Event
	f.bus.Subscribe("product.*", func(ctx context.Context, ev events.Event) error {
		assert.Equal(t, "commit", f.backend.calls[len(f.backend.calls)-1], "published before commit")
		got = append(got, ev)
		return nil
	})

	_, err := f.engine.Execute(context.Background(), CreateRecord{LogicalName: "product", Data: storage.Record{"name": "Lamp"}})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "product.created", got[0].Name)
	assert.Equal(t, "rec-1", got[0].ID)
	assert.True(t, got[0].ChangedValues.Has("name"))
}

func TestExecute_DataFilter(t *testing.T) {
	f := newFixture(t)
	ctx := datafilter.WithCaller(context.Background(), datafilter.Caller{UserID: "u1"})

	_, err := f.engine.Execute(ctx, RetrieveRecords{
		LogicalName: "note",
		Filter:      storage.Eq("body", "hello"),
	})
	require.NoError(t, err)

	filter := f.backend.lastList.Filter
	require.NotNil(t, filter)
	assert.Equal(t, storage.OpAnd, filter.Op)
	require.Len(t, filter.Filters, 2)
	assert.Equal(t, "body", filter.Filters[0].Attribute)
	assert.Equal(t, "owner_id", filter.Filters[1].Attribute)
	assert.Equal(t, "u1", filter.Filters[1].Value)

	f.backend.records["note:n1"] = storage.Record{"id": "n1", "owner_id": "u1"}
	_, err = f.engine.Execute(ctx, RetrieveRecord{LogicalName: "note", ID: "n1"})
	require.NoError(t, err)
	require.NotNil(t, f.backend.lastRetrieve.Filter)
	assert.Equal(t, "owner_id", f.backend.lastRetrieve.Filter.Attribute)

	// global entities stay unfiltered
	_, err = f.engine.Execute(ctx, RetrieveRecords{LogicalName: "product"})
	require.NoError(t, err)
	assert.Nil(t, f.backend.lastList.Filter)
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"createRecord","params":{"logicalName":"product","data":{"name":"Lamp","price":9.5}}}`))
	require.NoError(t, err)

	create, ok := req.(CreateRecord)
	require.True(t, ok, "got %T", req)
	assert.Equal(t, "product", create.Entity())
	assert.Equal(t, 9.5, create.Data["price"])

	req, err = DecodeRequest([]byte(`{"type":"retrieveRecords","params":{"logicalName":"product","filter":{"op":"in","attribute":"status","value":["draft","live"]},"sort":[{"attribute":"name","descending":true}],"limit":5}}`))
	require.NoError(t, err)
	list := req.(RetrieveRecords)
	assert.Equal(t, storage.OpIn, list.Filter.Op)
	assert.Equal(t, 5, list.Limit)
	assert.True(t, list.Sort[0].Descending)

	for _, bad := range []string{
		`not json`,
		`{"type":"createRecord"}`,
		`{"type":"upsertRecord","params":{}}`,
		`{"type":"deleteRecord","params":{"id":42}}`,
	} {
		_, err := DecodeRequest([]byte(bad))
		assert.ErrorIs(t, err, ErrBadRequest, bad)
	}
}
