// file: internal/datahook/datahook_test.go

package datahook

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopAegis/internal/adapter/datasource/sqlite"
	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
)

type product struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

type order struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

// scriptedTransport 记录请求，按顺序返回预设结果
type scriptedTransport struct {
	mu       sync.Mutex
	requests []port.Request
	results  []json.RawMessage
	errs     []error
}

func (s *scriptedTransport) Execute(_ context.Context, req *port.Request) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, *req)
	var (
		res json.RawMessage
		err error
	)
	if i < len(s.results) {
		res = s.results[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return res, err
}
func (s *scriptedTransport) HealthCheck(context.Context) error { return nil }
func (s *scriptedTransport) Type() string                      { return "scripted" }

func boolPtr(b bool) *bool { return &b }

// newShop 创建带商品和订单数据的内存库
func newShop(t *testing.T) *storeclient.Client {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().ExecContext(ctx, `
		CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL, category TEXT, price REAL);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, status TEXT NOT NULL, note TEXT NOT NULL DEFAULT '');
		INSERT INTO products VALUES
			(1, 'chips', 'snacks', 3.5), (2, 'soda', 'drinks', 2.0), (3, 'pretzel', 'snacks', 1.5),
			(4, 'cookie', 'snacks', 2.5), (5, 'juice', 'drinks', 4.0), (6, 'nuts', 'snacks', 5.0),
			(7, 'popcorn', 'snacks', 2.0), (8, 'candy', 'snacks', 0.5);
		INSERT INTO orders (id, status, note) VALUES (42, 'pending', 'gift wrap');`)
	require.NoError(t, err)
	return storeclient.New(store)
}

func TestUseQuery_ProductsExample(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products" WHERE "category" = ? ORDER BY "price" ASC LIMIT ?`)).
		WithArgs("snacks", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category", "price"}).
			AddRow(8, "candy", "snacks", 0.5))

	sc := storeclient.New(sqlite.NewWithDB(db))
	q := UseQuery[product](reqstate.New(reqstate.Config{}), sc, QueryOptions{Descriptor: domain.QueryDescriptor{
		Table:   "products",
		Filters: []domain.Filter{{Column: "category", Operator: domain.OpEq, Value: "snacks"}},
		OrderBy: &domain.Ordering{Column: "price", Ascending: boolPtr(true)},
		Limit:   5,
	}})

	rows, err := q.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []product{{ID: 8, Name: "candy", Category: "snacks", Price: 0.5}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUseQuery_FiltersThenOrderThenLimit(t *testing.T) {
	st := &scriptedTransport{results: []json.RawMessage{json.RawMessage(`[]`)}}
	q := UseQuery[product](reqstate.New(reqstate.Config{}), storeclient.New(st), QueryOptions{Descriptor: domain.QueryDescriptor{
		Table: "products",
		Filters: []domain.Filter{
			{Column: "category", Operator: domain.OpEq, Value: "snacks"},
			{Column: "price", Operator: domain.OpLt, Value: 3},
		},
		OrderBy: &domain.Ordering{Column: "price"},
		Limit:   2,
	}})
	_, err := q.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, st.requests, 1)
	req := st.requests[0]
	assert.Equal(t, "*", req.Columns)
	require.Len(t, req.Conditions, 2)
	assert.Equal(t, "category", req.Conditions[0].Column)
	assert.Equal(t, "price", req.Conditions[1].Column)
	assert.Equal(t, []port.Ordering{{Column: "price", Ascending: true}}, req.Orderings)
	assert.Equal(t, 2, req.Limit)
}

func TestUseQuery_FilterOrderDoesNotChangeResult(t *testing.T) {
	sc := newShop(t)
	qc := reqstate.New(reqstate.Config{})
	ctx := context.Background()

	a := domain.Filter{Column: "category", Operator: domain.OpEq, Value: "snacks"}
	b := domain.Filter{Column: "price", Operator: domain.OpGte, Value: 2}
	c := domain.Filter{Column: "id", Operator: domain.OpIn, Value: []int{1, 4, 6, 7, 8}}
	order := &domain.Ordering{Column: "id"}

	forward := UseQuery[product](qc, sc, QueryOptions{Descriptor: domain.QueryDescriptor{
		Table: "products", Filters: []domain.Filter{a, b, c}, OrderBy: order,
	}})
	reversed := UseQuery[product](qc, sc, QueryOptions{Descriptor: domain.QueryDescriptor{
		Table: "products", Filters: []domain.Filter{c, b, a}, OrderBy: order,
	}})
	assert.NotEqual(t, forward.Key(), reversed.Key(), "不同顺序是不同的缓存键")

	r1, err := forward.Fetch(ctx)
	require.NoError(t, err)
	r2, err := reversed.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	names := make([]string, len(r1))
	for i, p := range r1 {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"chips", "cookie", "nuts", "popcorn"}, names)
}

func TestUseQuery_Caching(t *testing.T) {
	st := &scriptedTransport{results: []json.RawMessage{
		json.RawMessage(`[{"id":1,"name":"chips"}]`),
		json.RawMessage(`[{"id":1,"name":"chips v2"}]`),
		json.RawMessage(`[{"id":1,"name":"chips v3"}]`),
	}}
	qc := reqstate.New(reqstate.Config{StaleTime: time.Hour})
	sc := storeclient.New(st)
	desc := domain.QueryDescriptor{Table: "products"}
	ctx := context.Background()

	q := UseQuery[product](qc, sc, QueryOptions{Descriptor: desc})
	rows, err := q.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chips", rows[0].Name)

	// 结构相同的描述符共享缓存
	same := UseQuery[product](qc, sc, QueryOptions{Descriptor: domain.QueryDescriptor{Table: "products", Select: "*"}})
	rows, err = same.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chips", rows[0].Name)
	assert.Len(t, st.requests, 1)

	// 不同 Scope 不共享
	scoped := UseQuery[product](qc, sc, QueryOptions{Descriptor: desc, Scope: "user-7"})
	rows, err = scoped.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chips v2", rows[0].Name)

	rows, err = q.Refetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chips v3", rows[0].Name)
	assert.Len(t, st.requests, 3)

	state := q.State()
	assert.Equal(t, reqstate.StatusSuccess, state.Status)
	assert.Equal(t, "chips v3", state.Data[0].Name)
}

func TestUseQuery_InvalidDescriptor(t *testing.T) {
	st := &scriptedTransport{}
	q := UseQuery[product](reqstate.New(reqstate.Config{}), storeclient.New(st), QueryOptions{
		Descriptor: domain.QueryDescriptor{Table: "products", Limit: -3},
	})
	_, err := q.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreOperation)
	assert.ErrorIs(t, err, domain.ErrInvalidDescriptor)
	assert.Empty(t, st.requests)
}

func TestUseMutation_OrdersUpdateExample(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "orders" SET "status" = ? WHERE "id" = ? RETURNING *`)).
		WithArgs("shipped", 42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "note"}).AddRow(42, "shipped", "gift wrap"))

	m := UseMutation[order](nil, storeclient.New(sqlite.NewWithDB(db)), MutationOptions[order]{})
	rows, err := m.MutateAsync(context.Background(), domain.MutationIntent{
		Table: "orders", Kind: domain.MutationUpdate,
		Payload: domain.Record{"id": 42, "status": "shipped"},
	})
	require.NoError(t, err)
	assert.Equal(t, []order{{ID: 42, Status: "shipped", Note: "gift wrap"}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUseMutation_IDOnlyInPredicate(t *testing.T) {
	testCases := []struct {
		name      string
		kind      domain.MutationKind
		wantBody  []map[string]any
		returning bool
	}{
		{"update", domain.MutationUpdate, []map[string]any{{"status": "shipped"}}, true},
		{"delete", domain.MutationDelete, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st := &scriptedTransport{results: []json.RawMessage{json.RawMessage(`[]`)}}
			m := UseMutation[order](nil, storeclient.New(st), MutationOptions[order]{})
			payload := domain.Record{"id": 42, "status": "shipped"}

			_, err := m.MutateAsync(context.Background(), domain.MutationIntent{Table: "orders", Kind: tc.kind, Payload: payload})
			require.NoError(t, err)

			require.Len(t, st.requests, 1)
			req := st.requests[0]
			assert.Equal(t, tc.wantBody, req.Body)
			for _, row := range req.Body {
				assert.NotContains(t, row, "id")
			}
			assert.Equal(t, []port.Condition{{Column: "id", Operator: domain.OpEq, Value: 42}}, req.Conditions)
			assert.Equal(t, tc.returning, req.Returning)
			assert.Contains(t, payload, "id", "调用者的 payload 不应被修改")
		})
	}
}

func TestUseMutation_InsertAndRoundTrip(t *testing.T) {
	sc := newShop(t)
	qc := reqstate.New(reqstate.Config{StaleTime: time.Hour})
	ctx := context.Background()

	list := UseQuery[order](qc, sc, QueryOptions{Descriptor: domain.QueryDescriptor{Table: "orders"}})
	before, err := list.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	var settled []order
	m := UseMutation[order](qc, sc, MutationOptions[order]{
		InvalidateOnSuccess: true,
		OnSettled:           func(rows []order, _ error) { settled = rows },
	})
	rows, err := m.MutateAsync(ctx, domain.MutationIntent{
		Table: "orders", Kind: domain.MutationInsert,
		Payload: domain.Record{"status": "new"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].Status)
	assert.NotZero(t, rows[0].ID)
	assert.Equal(t, rows, settled)
	assert.Equal(t, reqstate.MutationSuccess, m.State().Status)

	// 写入后缓存被标记过期，下一次读取拿到新行
	after, err := list.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestUseMutation_RepeatedDeleteSurfacesStoreError(t *testing.T) {
	sc := newShop(t)
	m := UseMutation[order](nil, sc, MutationOptions[order]{})
	intent := domain.MutationIntent{Table: "orders", Kind: domain.MutationDelete, Payload: domain.Record{"id": 42}}
	ctx := context.Background()

	rows, err := m.MutateAsync(ctx, intent)
	require.NoError(t, err)
	assert.Nil(t, rows)

	_, err = m.MutateAsync(ctx, intent)
	require.Error(t, err)
	assert.Equal(t, sqlite.RowNotFoundMessage, err.Error())
	assert.ErrorIs(t, err, domain.ErrStoreOperation)

	// 存储给出的第二次错误原样透出
	secondErr := &port.StoreError{Code: "PGRST116", Message: "JSON object requested, multiple (or no) rows returned"}
	st := &scriptedTransport{errs: []error{nil, secondErr}}
	m = UseMutation[order](nil, storeclient.New(st), MutationOptions[order]{})
	_, err = m.MutateAsync(ctx, intent)
	require.NoError(t, err)
	_, err = m.MutateAsync(ctx, intent)
	require.Error(t, err)
	assert.Equal(t, secondErr.Message, err.Error())
	assert.ErrorIs(t, err, secondErr)
}

func TestUseMutation_MissingIDIsRejectedByStore(t *testing.T) {
	testCases := []struct {
		name    string
		kind    domain.MutationKind
		payload domain.Record
	}{
		{"update 无 id", domain.MutationUpdate, domain.Record{"status": "shipped"}},
		{"delete 无 id", domain.MutationDelete, domain.Record{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sc := newShop(t)
			m := UseMutation[order](nil, sc, MutationOptions[order]{})
			ctx := context.Background()

			_, err := m.MutateAsync(ctx, domain.MutationIntent{Table: "orders", Kind: tc.kind, Payload: tc.payload})
			require.Error(t, err)
			assert.Equal(t, `invalid input syntax for column "id": "null"`, err.Error())
			assert.ErrorIs(t, err, domain.ErrStoreOperation)
			var se *port.StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, 400, se.Status)
			assert.Equal(t, reqstate.MutationError, m.State().Status)

			// 表中数据保持不变
			var rows []order
			require.NoError(t, sc.From("orders").Select("*").ExecuteTo(ctx, &rows))
			assert.Equal(t, []order{{ID: 42, Status: "pending", Note: "gift wrap"}}, rows)
		})
	}
}

func TestHooks_ExactStoreMessage(t *testing.T) {
	const msg = `column products.colour does not exist`
	storeErr := &port.StoreError{Status: 400, Code: "42703", Message: msg}
	ctx := context.Background()

	t.Run("query", func(t *testing.T) {
		st := &scriptedTransport{errs: []error{storeErr}}
		q := UseQuery[product](reqstate.New(reqstate.Config{}), storeclient.New(st), QueryOptions{
			Descriptor: domain.QueryDescriptor{Table: "products", Filters: []domain.Filter{{Column: "colour", Operator: domain.OpEq, Value: "red"}}},
		})
		_, err := q.Fetch(ctx)
		require.Error(t, err)
		assert.Equal(t, msg, err.Error())
		assert.ErrorIs(t, err, domain.ErrStoreOperation)
		assert.Equal(t, reqstate.StatusError, q.State().Status)
		assert.Len(t, st.requests, 1, "钩子本身不重试")
	})

	t.Run("mutation", func(t *testing.T) {
		for _, kind := range []domain.MutationKind{domain.MutationInsert, domain.MutationUpdate, domain.MutationDelete} {
			st := &scriptedTransport{errs: []error{storeErr}}
			var gotErr error
			m := UseMutation[product](nil, storeclient.New(st), MutationOptions[product]{
				OnError: func(err error) { gotErr = err },
			})
			_, err := m.MutateAsync(ctx, domain.MutationIntent{Table: "products", Kind: kind, Payload: domain.Record{"id": 1, "colour": "red"}})
			require.Error(t, err, kind)
			assert.Equal(t, msg, err.Error(), kind)
			assert.Equal(t, msg, gotErr.Error(), kind)
			assert.Equal(t, reqstate.MutationError, m.State().Status)
		}
	})

	t.Run("未知写操作类型", func(t *testing.T) {
		m := UseMutation[product](nil, storeclient.New(&scriptedTransport{}), MutationOptions[product]{})
		_, err := m.MutateAsync(ctx, domain.MutationIntent{Table: "products", Kind: "upsert"})
		assert.ErrorIs(t, err, domain.ErrUnknownMutationKind)
		assert.ErrorIs(t, err, domain.ErrStoreOperation)
	})
}

func TestUseMutation_MutateInBackground(t *testing.T) {
	st := &scriptedTransport{results: []json.RawMessage{json.RawMessage(`[{"id":9,"status":"new"}]`)}}
	var got []order
	m := UseMutation[order](nil, storeclient.New(st), MutationOptions[order]{
		OnSuccess: func(rows []order) { got = rows },
	})

	<-m.Mutate(context.Background(), domain.MutationIntent{Table: "orders", Kind: domain.MutationInsert, Payload: domain.Record{"status": "new"}})
	assert.Equal(t, []order{{ID: 9, Status: "new"}}, got)
	assert.Equal(t, reqstate.MutationSuccess, m.State().Status)

	m.Reset()
	assert.Equal(t, reqstate.MutationIdle, m.State().Status)
}

func TestStoreFailureUnwrapsToStoreError(t *testing.T) {
	storeErr := &port.StoreError{Message: "permission denied for table orders"}
	st := &scriptedTransport{errs: []error{storeErr}}
	m := UseMutation[order](nil, storeclient.New(st), MutationOptions[order]{})
	_, err := m.MutateAsync(context.Background(), domain.MutationIntent{Table: "orders", Kind: domain.MutationInsert, Payload: domain.Record{}})

	var se *port.StoreError
	require.True(t, errors.As(err, &se))
	assert.Same(t, storeErr, se)
}
