package dhtmsg

import (
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr7ana/lokinet/internal/core/storage/engine"
	"github.com/dr7ana/lokinet/internal/core/storage/engine/badger"
	"github.com/dr7ana/lokinet/internal/core/storage/kv"
	"github.com/dr7ana/lokinet/internal/overlay/introset"
	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/internal/overlay/nodedb"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/pkg/types"
)

func newTestNodeDB(t *testing.T, l *loop.Loop) *nodedb.NodeDB {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := engine.DefaultConfig(filepath.Join(tmpDir, "test.db"))
	eng, err := badger.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	store := kv.New(eng, []byte("n/"))
	noopChecker := func(*rc.RouterContact, time.Time) error { return nil }
	disk := func(fn func()) { fn() }
	return nodedb.New(l, store, disk, noopChecker)
}

func putRC(t *testing.T, db *nodedb.NodeDB, candidate *rc.RouterContact) {
	t.Helper()
	done := make(chan error, 1)
	db.PutRCAsync(candidate, func(err error) { done <- err })
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PutRCAsync")
	}
}

func nodeID(b byte) types.NodeID {
	var id types.NodeID
	id[0] = b
	return id
}

func testRC(now time.Time, id types.NodeID, ttl time.Duration) *rc.RouterContact {
	return &rc.RouterContact{
		RID:      id,
		Version:  1,
		IssuedAt: now,
		Expiry:   now.Add(ttl),
	}
}

func newTestHandler(t *testing.T, now time.Time) (*Handler, *loop.Loop, *nodedb.NodeDB) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(now)
	l := loop.New(mock)
	db := newTestNodeDB(t, l)
	h := New(l, db)
	h.Init(nodeID(0xFF))
	t.Cleanup(h.Shutdown)
	return h, l, db
}

func TestInitSetsOurKey(t *testing.T) {
	now := time.Now()
	h, _, _ := newTestHandler(t, now)
	assert.Equal(t, nodeID(0xFF), h.OurKey())
}

func TestLookupRouterRelayedSelfTarget(t *testing.T) {
	now := time.Now()
	h, _, db := newTestHandler(t, now)
	putRC(t, db, testRC(now, h.OurKey(), time.Hour))

	replies := h.LookupRouterRelayed(nodeID(1), 42, h.OurKey(), false)
	require.Len(t, replies, 1)
	got, ok := replies[0].(*GotRouterMessage)
	require.True(t, ok)
	require.Len(t, got.RCs, 1)
	assert.Equal(t, h.OurKey(), got.RCs[0].RID)
}

func TestLookupRouterRelayedDirectHit(t *testing.T) {
	now := time.Now()
	h, _, db := newTestHandler(t, now)
	target := nodeID(2)
	putRC(t, db, testRC(now, target, time.Hour))

	replies := h.LookupRouterRelayed(nodeID(1), 7, target, false)
	require.Len(t, replies, 1)
	got := replies[0].(*GotRouterMessage)
	require.Len(t, got.RCs, 1)
	assert.Equal(t, target, got.RCs[0].RID)
}

func TestLookupRouterRelayedEmptyNodeDB(t *testing.T) {
	now := time.Now()
	h, _, _ := newTestHandler(t, now)

	replies := h.LookupRouterRelayed(nodeID(1), 7, nodeID(2), false)
	require.Len(t, replies, 1)
	got := replies[0].(*GotRouterMessage)
	assert.Empty(t, got.RCs)
	assert.Empty(t, got.ClosestRouters)
}

func TestLookupRouterRelayedIterativeHint(t *testing.T) {
	now := time.Now()
	h, _, db := newTestHandler(t, now)
	nearest := nodeID(3)
	putRC(t, db, testRC(now, nearest, time.Hour))

	replies := h.LookupRouterRelayed(nodeID(1), 9, nodeID(4), false)
	require.Len(t, replies, 1)
	got := replies[0].(*GotRouterMessage)
	assert.Empty(t, got.RCs)
	require.Len(t, got.ClosestRouters, 1)
	assert.Equal(t, nearest, got.ClosestRouters[0])
}

func TestHandleExploratoryRouterLookupInsufficientPeers(t *testing.T) {
	now := time.Now()
	h, _, _ := newTestHandler(t, now)
	_, err := h.HandleExploratoryRouterLookup(nodeID(1), 1, nodeID(2))
	assert.ErrorIs(t, err, errInsufficientPeers)
}

func TestHandleExploratoryRouterLookupFiltersBadForConnect(t *testing.T) {
	now := time.Now()
	h, _, db := newTestHandler(t, now)
	bad := nodeID(5)
	putRC(t, db, testRC(now, bad, time.Hour))
	h.BadForConnect = func(id types.NodeID) bool { return id == bad }

	_, err := h.HandleExploratoryRouterLookup(nodeID(1), 1, nodeID(6))
	assert.ErrorIs(t, err, errInsufficientPeers, "候选唯一且被过滤后应视为无候选")
}

func TestHandleExploratoryRouterLookupExcludesSelfAndRequester(t *testing.T) {
	now := time.Now()
	h, _, db := newTestHandler(t, now)
	requester := nodeID(7)
	putRC(t, db, testRC(now, h.OurKey(), time.Hour))
	putRC(t, db, testRC(now, requester, time.Hour))

	// 放入 6 个候选者（超过 exploratoryLookupCount=4），确保排除 self/
	// requester 后仍然剩余足够多的节点来验证"恰好 4 个、按 XOR 距离升序"
	// 这一行为，而不是只留一个候选来掩盖 bug。
	candidates := []types.NodeID{nodeID(10), nodeID(11), nodeID(12), nodeID(13), nodeID(14), nodeID(15)}
	for _, c := range candidates {
		putRC(t, db, testRC(now, c, time.Hour))
	}

	target := nodeID(9)
	replies, err := h.HandleExploratoryRouterLookup(requester, 1, target)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	got := replies[0].(*GotRouterMessage)

	require.Len(t, got.ClosestRouters, 4, "应恰好返回 4 个节点,不是退化为 1 个")
	for _, id := range got.ClosestRouters {
		assert.NotEqual(t, h.OurKey(), id)
		assert.NotEqual(t, requester, id)
	}

	want := append([]types.NodeID(nil), candidates...)
	sort.Slice(want, func(i, j int) bool {
		return keyspace.CloserTo(target, want[i], want[j])
	})
	assert.Equal(t, want[:4], got.ClosestRouters, "应按 XOR 距离升序排列")
}

func TestReplicaIndexWraps(t *testing.T) {
	assert.Equal(t, 2, ReplicaIndex(0, 2, 4))
	assert.Equal(t, 0, ReplicaIndex(0, 4, 4))
	assert.Equal(t, 0, ReplicaIndex(1, 0, 0))
}

func TestHandleMessagePublishIntroSetStoresLocally(t *testing.T) {
	now := time.Now()
	h, _, _ := newTestHandler(t, now)

	loc := nodeID(10)
	iset := &introset.IntroSet{Location: loc, Expiry: now.Add(time.Hour)}
	_, ok := h.HandleMessage(&PublishIntroSetMessage{Tx: 1, ISet: iset}, nodeID(1))
	require.True(t, ok)

	got, found := h.GetIntroSetByLocation(loc)
	require.True(t, found)
	assert.Equal(t, iset, got)
}

func TestHandleMessageFindIntroSetFound(t *testing.T) {
	now := time.Now()
	h, _, _ := newTestHandler(t, now)
	loc := nodeID(11)
	iset := &introset.IntroSet{Location: loc, Expiry: now.Add(time.Hour)}
	h.services.Put(loc, iset)

	replies, ok := h.HandleMessage(&FindIntroSetMessage{Tx: 5, Location: loc}, nodeID(1))
	require.True(t, ok)
	require.Len(t, replies, 1)
	got := replies[0].(*GotIntroSetMessage)
	assert.True(t, got.Found)
	assert.Equal(t, iset, got.ISet)
}

func TestHandleMessageFindIntroSetNotFound(t *testing.T) {
	now := time.Now()
	h, _, _ := newTestHandler(t, now)
	replies, ok := h.HandleMessage(&FindIntroSetMessage{Tx: 5, Location: nodeID(12)}, nodeID(1))
	require.True(t, ok)
	require.Len(t, replies, 1)
	got := replies[0].(*GotIntroSetMessage)
	assert.False(t, got.Found)
}

func TestLookupRouterDeliversViaCallbackOnReply(t *testing.T) {
	now := time.Now()
	h, _, db := newTestHandler(t, now)
	askpeer := nodeID(20)
	target := nodeID(21)
	putRC(t, db, testRC(now, askpeer, time.Hour))

	var sent []types.NodeID
	var sentTx uint64
	h.SendTo = func(peer types.NodeID, msg Message) {
		sent = append(sent, peer)
		sentTx = msg.TxID()
	}
	h.PersistUntil = func(types.NodeID, time.Time) {}

	resultCh := make(chan bool, 1)
	ok := h.LookupRouter(target, func(got *rc.RouterContact, found bool) {
		resultCh <- found
	})
	require.True(t, ok)
	require.Len(t, sent, 1)
	assert.Equal(t, askpeer, sent[0])

	// 模拟目标对端直接回复了命中的 RC，带回我们发出时分配的那个 tx id。
	targetRC := testRC(now, target, time.Hour)
	replies, _ := h.HandleMessage(&GotRouterMessage{Tx: sentTx, RCs: []*rc.RouterContact{targetRC}}, askpeer)
	assert.Nil(t, replies)

	select {
	case found := <-resultCh:
		assert.True(t, found)
	case <-time.After(time.Second):
		t.Fatal("回调未被调用")
	}
}

func TestCleanupTickExpiresRCsAndIntroSets(t *testing.T) {
	now := time.Now()
	mock := clock.NewMock()
	mock.Set(now)
	l := loop.New(mock)
	db := newTestNodeDB(t, l)
	h := New(l, db)
	h.Init(nodeID(0xEE))
	defer h.Shutdown()

	expiring := nodeID(30)
	putRC(t, db, testRC(now, expiring, time.Second))

	liveLoc := nodeID(31)
	h.services.Put(liveLoc, &introset.IntroSet{Location: liveLoc, Expiry: now.Add(time.Second)})

	mock.Add(2 * time.Second)
	// cleanupTick 经 loop.CallEvery 调度；直接调用以确定性验证效果。
	doneCh := make(chan struct{})
	l.CallSoon(nil, func() {
		h.cleanupTick()
		close(doneCh)
	})
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("cleanupTick 未执行")
	}

	assert.False(t, db.Has(expiring))
	_, found := h.GetIntroSetByLocation(liveLoc)
	assert.False(t, found)
}
