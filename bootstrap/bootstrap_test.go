package bootstrap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/artpar/entitysdk/adapters/hasher"
	"github.com/artpar/entitysdk/bootstrap"
	"github.com/artpar/entitysdk/config"
	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/engine"
	"github.com/artpar/entitysdk/core/events"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
database:
  dsn: "` + filepath.Join(t.TempDir(), "app.db") + `"
schemas:
  dir: "testdata/schemas"
metrics:
  enabled: true
security:
  bcrypt_cost: 4
`))
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *bootstrap.App {
	t.Helper()
	logger := zerolog.Nop()
	a, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{
		Logger:   &logger,
		Registry: prometheus.NewRegistry(),
		Version:  "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func exec(t *testing.T, a *bootstrap.App, ctx context.Context, req engine.Request) engine.Result {
	t.Helper()
	res, err := a.Engine.Execute(ctx, req)
	require.NoError(t, err)
	return res
}

func TestApp_EndToEnd(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()
	admin := datafilter.WithCaller(ctx, datafilter.Caller{Admin: true})

	var upgraded []events.Event
	a.Events.Subscribe("customer.upgraded", func(ctx context.Context, ev events.Event) error {
		upgraded = append(upgraded, ev)
		return nil
	})

	customer := exec(t, a, ctx, engine.CreateRecord{
		LogicalName: "customer",
		Data:        storage.Record{"name": "Ada", "password": "hunter2"},
	}).ID

	got := exec(t, a, ctx, engine.RetrieveRecord{LogicalName: "customer", ID: customer}).Record
	assert.Equal(t, "standard", got["tier"])
	assert.NotEqual(t, "hunter2", got["password"])
	hash, _ := got["password"].(string)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
	assert.NotEmpty(t, got["created_at"])

	// an unchanged hash written back is not hashed again
	exec(t, a, ctx, engine.UpdateRecord{LogicalName: "customer", ID: customer, Data: storage.Record{"password": hash, "email": "ada@example.com"}})
	got = exec(t, a, ctx, engine.RetrieveRecord{LogicalName: "customer", ID: customer}).Record
	assert.Equal(t, hash, got["password"])
	assert.True(t, hasher.IsHash([]byte(hash)))

	order := exec(t, a, ctx, engine.CreateRecord{
		LogicalName: "order",
		Data:        storage.Record{"customer": customer, "total": 12.5},
	}).ID
	second := exec(t, a, ctx, engine.CreateRecord{
		LogicalName: "order",
		Data:        storage.Record{"customer": customer},
	}).ID

	o := exec(t, a, ctx, engine.RetrieveRecord{LogicalName: "order", ID: order}).Record
	assert.Equal(t, "ORD-00001", o["number"])
	assert.NotEmpty(t, o["placed_on"])
	o = exec(t, a, ctx, engine.RetrieveRecord{LogicalName: "order", ID: second}).Record
	assert.Equal(t, "ORD-00002", o["number"])
	assert.Equal(t, 0.0, o["total"])

	note := exec(t, a, ctx, engine.CreateRecord{
		LogicalName: "note",
		Data:        storage.Record{"body": "call back", "owner_id": "u1", "customer": customer},
	}).ID

	exec(t, a, ctx, engine.UpdateRecord{LogicalName: "customer", ID: customer, Data: storage.Record{"tier": "gold"}})
	require.Len(t, upgraded, 1)
	assert.Equal(t, customer, upgraded[0].ID)

	exec(t, a, ctx, engine.DeleteRecord{LogicalName: "customer", ID: customer})

	_, err := a.Engine.Execute(ctx, engine.RetrieveRecord{LogicalName: "order", ID: order})
	assert.ErrorIs(t, err, storage.ErrNotFound, "orders cascade with their customer")

	n := exec(t, a, admin, engine.RetrieveRecord{LogicalName: "note", ID: note}).Record
	assert.Nil(t, n["customer"], "notes keep existing with the reference cleared")
}

func TestApp_EventsCarryHashedSecrets(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	var got []events.Event
	a.Events.Subscribe("customer.*", func(ctx context.Context, ev events.Event) error {
		got = append(got, ev)
		return nil
	})

	id := exec(t, a, ctx, engine.CreateRecord{
		LogicalName: "customer",
		Data:        storage.Record{"name": "Ada", "password": "hunter2"},
	}).ID
	exec(t, a, ctx, engine.UpdateRecord{LogicalName: "customer", ID: id, Data: storage.Record{"password": "swordfish"}})

	require.Len(t, got, 2)
	plain := map[string]string{"customer.created": "hunter2", "customer.updated": "swordfish"}
	for _, ev := range got {
		secret, ok := plain[ev.Name]
		require.True(t, ok, "unexpected event %s", ev.Name)

		hash, _ := ev.Data["password"].(string)
		assert.True(t, hasher.IsHash([]byte(hash)), "%s data holds the hash", ev.Name)

		change, ok := ev.ChangedValues["password"]
		require.True(t, ok, "%s reports the password change", ev.Name)
		assert.Equal(t, hash, change.New, "%s changed value matches the stored hash", ev.Name)
		assert.NotEqual(t, secret, change.New)
		assert.NotEqual(t, secret, change.Previous)
	}
}

func TestApp_RejectsInvalidData(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	_, err := a.Engine.Execute(ctx, engine.CreateRecord{LogicalName: "customer", Data: storage.Record{"tier": "platinum"}})
	assert.ErrorIs(t, err, engine.ErrBadRequest)
	assert.ErrorContains(t, err, "name: attribute is required")

	id := exec(t, a, ctx, engine.CreateRecord{LogicalName: "customer", Data: storage.Record{"name": "Ada"}}).ID
	_, err = a.Engine.Execute(ctx, engine.UpdateRecord{LogicalName: "customer", ID: id, Data: storage.Record{"shoe_size": 9}})
	assert.ErrorIs(t, err, engine.ErrBadRequest)

	res := exec(t, a, ctx, engine.RetrieveRecords{LogicalName: "customer"})
	assert.Equal(t, int64(1), res.Total)
}

func TestApp_OwnershipFilter(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	for _, owner := range []string{"u1", "u1", "u2"} {
		exec(t, a, ctx, engine.CreateRecord{LogicalName: "note", Data: storage.Record{"owner_id": owner}})
	}

	count := func(c datafilter.Caller) int64 {
		res := exec(t, a, datafilter.WithCaller(ctx, c), engine.RetrieveRecords{LogicalName: "note"})
		return res.Total
	}

	assert.Equal(t, int64(2), count(datafilter.Caller{UserID: "u1"}))
	assert.Equal(t, int64(1), count(datafilter.Caller{UserID: "u2"}))
	assert.Equal(t, int64(0), count(datafilter.Caller{}))
	assert.Equal(t, int64(3), count(datafilter.Caller{Admin: true}))
}

func TestApp_Handler(t *testing.T) {
	a := newApp(t, testConfig(t))

	_, err := a.Engine.Execute(context.Background(), engine.CreateRecord{LogicalName: "customer", Data: storage.Record{"name": "x"}})
	require.NoError(t, err)

	h := a.Handler()

	for path, want := range map[string]string{
		"/schemas":                    `"entity":"customer"`,
		"/schemas/customer/dependents": `"schemaLogicalName":"note"`,
		"/readyz":                     `"ok"`,
		"/version":                    `"test"`,
		"/metrics":                    "entitysdk_executions_total",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), want, path)
	}
}

func TestApp_MemoryAutoNumbers(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoNumber.Provider = "memory"
	cfg.Metrics.Enabled = false
	a := newApp(t, cfg)

	res := exec(t, a, context.Background(), engine.CreateRecord{LogicalName: "order"})
	o := exec(t, a, context.Background(), engine.RetrieveRecord{LogicalName: "order", ID: res.ID}).Record
	assert.Equal(t, "ORD-00001", o["number"])
	assert.Nil(t, a.Metrics)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_Errors(t *testing.T) {
	logger := zerolog.Nop()

	cfg := testConfig(t)
	cfg.Schemas.Dir = filepath.Join(t.TempDir(), "missing")
	_, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Logger: &logger})
	assert.ErrorContains(t, err, "load schemas")
}
