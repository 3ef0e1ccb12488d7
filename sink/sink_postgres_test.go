package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/transformer"
)

type execCall struct {
	sql  string
	args []any
}

type fakePgx struct {
	calls []execCall
	tag   string
	err   error
}

func (f *fakePgx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag(f.tag), nil
}

func TestPostgresTable_QuotesTableName(t *testing.T) {
	f := &fakePgx{tag: "CREATE TABLE"}
	s := NewPostgresTable(f, "app.widgets", transformer.PolicyReject)

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, f.calls, 1)
	assert.Contains(t, f.calls[0].sql, `CREATE TABLE IF NOT EXISTS "app"."widgets"`)
}

func TestPostgresTable_CreateUpserts(t *testing.T) {
	f := &fakePgx{tag: "INSERT 0 1"}
	s := NewPostgresTable(f, "widgets", transformer.PolicyReject)
	r := mustDecode(t, `{"type":"create","requestId":"r-1","widgetId":"w-1","owner":"Bob","otherAttributes":[{"name":"color","value":"red"}]}`)

	require.NoError(t, s.Create(context.Background(), r))

	call := f.calls[0]
	assert.True(t, strings.HasPrefix(call.sql, `INSERT INTO "widgets"`))
	assert.Contains(t, call.sql, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, call.args, 2)
	assert.Equal(t, "w-1", call.args[0])

	var rec map[string]string
	require.NoError(t, json.Unmarshal([]byte(call.args[1].(string)), &rec))
	assert.Equal(t, map[string]string{"id": "w-1", "owner": "Bob", "type": "create", "requestId": "r-1", "color": "red"}, rec)
}

func TestPostgresTable_UpdateMissingWidget(t *testing.T) {
	f := &fakePgx{tag: "UPDATE 0"}
	s := NewPostgresTable(f, "widgets", transformer.PolicyReject)
	r := mustDecode(t, `{"type":"update","requestId":"r","widgetId":"w-1","owner":"Bob"}`)

	assert.ErrorIs(t, s.Update(context.Background(), r), ErrNotFound)
	assert.Contains(t, f.calls[0].sql, "record = record || $2::jsonb")
}

func TestPostgresTable_UpdateExisting(t *testing.T) {
	f := &fakePgx{tag: "UPDATE 1"}
	s := NewPostgresTable(f, "widgets", transformer.PolicyReject)
	r := mustDecode(t, `{"type":"update","requestId":"r","widgetId":"w-1","owner":"Bob"}`)

	assert.NoError(t, s.Update(context.Background(), r))
}

func TestPostgresTable_Delete(t *testing.T) {
	f := &fakePgx{tag: "DELETE 0"}
	s := NewPostgresTable(f, "widgets", transformer.PolicyReject)

	require.NoError(t, s.Delete(context.Background(), &request.Request{WidgetID: "w-1"}))
	assert.Equal(t, `DELETE FROM "widgets" WHERE id = $1`, f.calls[0].sql)
	assert.Equal(t, []any{"w-1"}, f.calls[0].args)
}

func TestPostgresTable_PropagatesErrors(t *testing.T) {
	boom := errors.New("conn reset")
	f := &fakePgx{err: boom}
	s := NewPostgresTable(f, "widgets", transformer.PolicyReject)
	r := mustDecode(t, `{"type":"create","requestId":"r","widgetId":"w-1","owner":"Bob"}`)

	assert.ErrorIs(t, s.EnsureSchema(context.Background()), boom)
	assert.ErrorIs(t, s.Create(context.Background(), r), boom)
	assert.ErrorIs(t, s.Update(context.Background(), r), boom)
	assert.ErrorIs(t, s.Delete(context.Background(), r), boom)
}

func TestPostgresTable_CollisionSkipsWrite(t *testing.T) {
	f := &fakePgx{tag: "INSERT 0 1"}
	s := NewPostgresTable(f, "widgets", transformer.PolicyReject)
	r := mustDecode(t, `{"type":"create","requestId":"r","widgetId":"w-1","owner":"Bob","otherAttributes":[{"name":"type","value":"x"}]}`)

	assert.ErrorIs(t, s.Create(context.Background(), r), transformer.ErrAttributeCollision)
	assert.Empty(t, f.calls)
}
