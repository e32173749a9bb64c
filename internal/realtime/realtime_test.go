package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabcards/dashboard/internal/table"
)

type countingTable struct {
	mu          sync.Mutex
	invalidated int
	closed      bool
	done        chan struct{}
	sorts       []table.Sort
	subs        []func(table.View)
}

func (c *countingTable) Invalidate() {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
}

func (c *countingTable) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

func (c *countingTable) View() table.View { return table.View{Name: "batches", Version: 1} }

func (c *countingTable) Subscribe(fn func(table.View)) func() {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
	return func() {}
}

func (c *countingTable) publish(v table.View) {
	c.mu.Lock()
	subs := append([]func(table.View){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

func (c *countingTable) SortBy(key string, dir table.Direction) error {
	c.mu.Lock()
	c.sorts = append(c.sorts, table.Sort{Key: key, Direction: dir})
	c.mu.Unlock()
	return nil
}

func (c *countingTable) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.done == nil {
		c.done = make(chan struct{})
	}
	close(c.done)
}

func (c *countingTable) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

func (c *countingTable) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestInvalidation_Covers(t *testing.T) {
	inv := Invalidation{Screen: "batches", Scope: map[string]string{"company_id": "acme-id"}}

	assert.True(t, inv.Covers("batches", map[string]string{"company_id": "acme-id"}))
	assert.True(t, inv.Covers("batches", nil), "an unscoped listing shows every company")
	assert.False(t, inv.Covers("batches", map[string]string{"company_id": "globex-id"}))
	assert.False(t, inv.Covers("cards", nil))
}

func TestHub_InvalidateLocal(t *testing.T) {
	h := NewHub(nil, nil)
	acme := &countingTable{}
	globex := &countingTable{}
	all := &countingTable{}
	h.Register("batches", map[string]string{"company_id": "acme-id"}, acme)
	h.Register("batches", map[string]string{"company_id": "globex-id"}, globex)
	id := h.Register("batches", nil, all)

	h.Invalidate(context.Background(), Invalidation{Screen: "batches", Scope: map[string]string{"company_id": "acme-id"}})
	assert.Equal(t, 1, acme.count())
	assert.Equal(t, 0, globex.count())
	assert.Equal(t, 1, all.count())

	h.Unregister(id)
	assert.Equal(t, 2, h.Count())
}

type fakeBus struct {
	mu         sync.Mutex
	handlers   []func(Invalidation)
	publishErr error
	published  int
}

func (b *fakeBus) Publish(_ context.Context, inv Invalidation) error {
	b.mu.Lock()
	b.published++
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	handlers := append([]func(Invalidation){}, b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(inv)
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, handler func(Invalidation)) (func(), error) {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return func() {}, nil
}

func TestHub_InvalidateAcrossInstances(t *testing.T) {
	bus := &fakeBus{}
	ctx := context.Background()
	a, b := NewHub(nil, bus), NewHub(nil, bus)
	require.NoError(t, a.Run(ctx))
	require.NoError(t, b.Run(ctx))

	onA, onB := &countingTable{}, &countingTable{}
	a.Register("cards", map[string]string{"batch_id": "b-1"}, onA)
	b.Register("cards", map[string]string{"batch_id": "b-1"}, onB)

	a.Invalidate(ctx, Invalidation{Screen: "cards", Scope: map[string]string{"batch_id": "b-1"}})
	assert.Equal(t, 1, onA.count(), "the publishing instance hears its own message once")
	assert.Equal(t, 1, onB.count())
}

func TestHub_FallsBackToLocalWhenPublishFails(t *testing.T) {
	bus := &fakeBus{publishErr: errors.New("redis down")}
	h := NewHub(nil, bus)
	tbl := &countingTable{}
	h.Register("cards", nil, tbl)

	h.Invalidate(context.Background(), Invalidation{Screen: "cards"})
	assert.Equal(t, 1, tbl.count())
}

func TestServeTables(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil)
	tbl := &countingTable{}

	router := gin.New()
	router.GET("/ws/tables", ServeTables(hub, Upgrader(nil), func(c *gin.Context) (string, map[string]string, LiveTable, bool) {
		return "batches", map[string]string{"company_id": c.Query("company_id")}, tbl, true
	}, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tables?company_id=acme-id"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	readView := func() table.View {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "view", msg.Event)
		var v table.View
		require.NoError(t, json.Unmarshal(msg.Data, &v))
		return v
	}

	assert.Equal(t, uint64(1), readView().Version)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	tbl.publish(table.View{Name: "batches", Version: 2})
	assert.Equal(t, uint64(2), readView().Version)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "sort", Data: json.RawMessage(`{"key":"created","direction":"desc"}`)}))
	require.NoError(t, conn.WriteJSON(WSMessage{Event: "refresh"}))
	require.Eventually(t, func() bool { return tbl.count() == 1 }, time.Second, time.Millisecond)
	tbl.mu.Lock()
	assert.Equal(t, []table.Sort{{Key: "created", Direction: table.Desc}}, tbl.sorts)
	tbl.mu.Unlock()

	require.NoError(t, conn.Close())
	require.Eventually(t, tbl.isClosed, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, time.Millisecond)
}

func TestServeTables_ClosesSocketWhenTableEnds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil)
	tbl := &countingTable{}

	router := gin.New()
	router.GET("/ws/tables", ServeTables(hub, Upgrader(nil), func(c *gin.Context) (string, map[string]string, LiveTable, bool) {
		return "cards", map[string]string{"batch_id": "b-1"}, tbl, true
	}, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/tables", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	tbl.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg WSMessage
		if err = conn.ReadJSON(&msg); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, time.Millisecond)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := Upgrader([]string{"https://dash.cards.test"})
	req := httptest.NewRequest("GET", "/ws/tables", nil)
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://dash.cards.test")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.test")
	assert.False(t, up.CheckOrigin(req))
}
