package pathbuilder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr7ana/lokinet/internal/core/storage/engine"
	"github.com/dr7ana/lokinet/internal/core/storage/engine/badger"
	"github.com/dr7ana/lokinet/internal/core/storage/kv"
	"github.com/dr7ana/lokinet/internal/overlay/loop"
	"github.com/dr7ana/lokinet/internal/overlay/nodedb"
	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/internal/overlay/pathctx"
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

func nodeID(b byte) types.NodeID {
	var id types.NodeID
	id[0] = b
	return id
}

func testRC(now time.Time, id types.NodeID, ttl time.Duration) *rc.RouterContact {
	return &rc.RouterContact{RID: id, Version: 1, IssuedAt: now, Expiry: now.Add(ttl)}
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

func putNRCs(t *testing.T, db *nodedb.NodeDB, now time.Time, n int, startAt byte) []types.NodeID {
	t.Helper()
	ids := make([]types.NodeID, 0, n)
	for i := 0; i < n; i++ {
		id := nodeID(startAt + byte(i))
		putRC(t, db, testRC(now, id, time.Hour))
		ids = append(ids, id)
	}
	return ids
}

func newTestBuilder(t *testing.T, cfg Config) (*Builder, *loop.Loop, *nodedb.NodeDB, time.Time) {
	t.Helper()
	now := time.Now()
	l := loop.New(nil)
	db := newTestNodeDB(t, l)
	ctx := pathctx.New(types.NodeID{}, false)
	b := New(db, ctx, cfg)
	return b, l, db, now
}

func TestGetHopsForBuildInsufficientCandidates(t *testing.T) {
	b, _, db, now := newTestBuilder(t, Config{HopLength: 3})
	putNRCs(t, db, now, 2, 1)

	_, ok := b.GetHopsForBuild(now)
	assert.False(t, ok, "候选少于 hopLength 时应失败")
}

func TestGetHopsForBuildSufficientCandidates(t *testing.T) {
	b, _, db, now := newTestBuilder(t, Config{HopLength: 3})
	putNRCs(t, db, now, 5, 1)

	hops, ok := b.GetHopsForBuild(now)
	require.True(t, ok)
	assert.Len(t, hops, 3)

	seen := make(map[types.NodeID]bool)
	for _, h := range hops {
		assert.False(t, seen[h.RID], "跳之间不应重复")
		seen[h.RID] = true
	}
}

func TestGetHopsForBuildFiltersBlacklist(t *testing.T) {
	ids := []types.NodeID{nodeID(1), nodeID(2)}
	b, _, db, now := newTestBuilder(t, Config{
		HopLength: 3,
		Blacklist: func(id types.NodeID) bool {
			return id == ids[0] || id == ids[1]
		},
	})
	putNRCs(t, db, now, 5, 1)

	hops, ok := b.GetHopsForBuild(now)
	require.True(t, ok)
	for _, h := range hops {
		assert.NotEqual(t, ids[0], h.RID)
		assert.NotEqual(t, ids[1], h.RID)
	}
}

func TestGetHopsForBuildPivotCriteriaSwapsIntoLastPosition(t *testing.T) {
	pivot := nodeID(99)
	b, _, db, now := newTestBuilder(t, Config{
		HopLength: 3,
		PivotCriteria: func(id types.NodeID) bool {
			return id == pivot
		},
	})
	putNRCs(t, db, now, 5, 1)
	putRC(t, db, testRC(now, pivot, time.Hour))

	hops, ok := b.GetHopsForBuild(now)
	require.True(t, ok)
	require.Len(t, hops, 3)
	assert.Equal(t, pivot, hops[len(hops)-1].RID, "满足 pivot 条件的跳应被放到末跳位置")
}

func TestGetHopsForBuildPivotCriteriaUnsatisfiable(t *testing.T) {
	b, _, db, now := newTestBuilder(t, Config{
		HopLength: 3,
		PivotCriteria: func(id types.NodeID) bool {
			return false
		},
	})
	putNRCs(t, db, now, 5, 1)

	_, ok := b.GetHopsForBuild(now)
	assert.False(t, ok, "无候选满足 pivot 条件时应失败")
}

func TestBuildMoreReportsInitiatedCount(t *testing.T) {
	b, _, db, now := newTestBuilder(t, Config{
		HopLength: 3,
		Build: func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error)) {
			onResult(nil, nil)
		},
	})
	putNRCs(t, db, now, 5, 1)

	n := b.BuildMore(now, 2)
	assert.Equal(t, 2, n)
}

func TestBuildMoreStopsWhenHopsInsufficient(t *testing.T) {
	b, _, db, now := newTestBuilder(t, Config{
		HopLength: 3,
		Build: func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error)) {
			onResult(nil, nil)
		},
	})
	putNRCs(t, db, now, 2, 1)

	n := b.BuildMore(now, 2)
	assert.Equal(t, 0, n)
}

func TestBuildMoreNoBuildFuncConfigured(t *testing.T) {
	b, _, db, now := newTestBuilder(t, Config{HopLength: 3})
	putNRCs(t, db, now, 5, 1)

	n := b.BuildMore(now, 1)
	assert.Equal(t, 0, n)
}

func TestShouldBuildMoreAndUrgentBuildThresholds(t *testing.T) {
	b, _, _, now := newTestBuilder(t, Config{HopLength: 3, TargetPaths: 2})
	assert.True(t, b.ShouldBuildMore(now))
	assert.True(t, b.UrgentBuild(now), "无任何就绪路径时应为紧急")

	hop := path.Hop{RID: nodeID(5), RxID: path.NewHopID(), TxID: path.NewHopID(), Lifetime: time.Minute}
	p := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })
	b.HandlePathBuilt(p)

	assert.False(t, b.UrgentBuild(now), "已有一条就绪路径后不再紧急")
	assert.True(t, b.ShouldBuildMore(now), "就绪数仍低于目标值")
}

func TestHandlePathBuiltRegistersWithContextAndBuilder(t *testing.T) {
	b, _, _, now := newTestBuilder(t, Config{HopLength: 3, TargetPaths: 1})
	hop := path.Hop{RID: nodeID(7), RxID: path.NewHopID(), TxID: path.NewHopID(), Lifetime: time.Minute}
	p := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })

	b.HandlePathBuilt(p)

	assert.True(t, p.IsReady())
	assert.Equal(t, 1, b.ReadyCount(now))
	require.Len(t, b.Paths(), 1)
	assert.True(t, b.Paths()[0].Equal(p))
}

func TestHandlePathDiedRemovesFromBuilderOnly(t *testing.T) {
	b, _, _, now := newTestBuilder(t, Config{HopLength: 3, TargetPaths: 1})
	hop := path.Hop{RID: nodeID(8), RxID: path.NewHopID(), TxID: path.NewHopID(), Lifetime: time.Minute}
	p := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })
	b.HandlePathBuilt(p)
	require.Equal(t, 1, b.ReadyCount(now))

	b.HandlePathDied(p)
	assert.Equal(t, 0, b.ReadyCount(now))
	assert.Empty(t, b.Paths())
}

func TestHandlePathDiedIgnoresStalePivotEntry(t *testing.T) {
	b, _, _, now := newTestBuilder(t, Config{HopLength: 3, TargetPaths: 1})
	hop := path.Hop{RID: nodeID(9), RxID: path.NewHopID(), TxID: path.NewHopID(), Lifetime: time.Minute}
	oldPath := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })
	newPath := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })
	b.HandlePathBuilt(oldPath)
	b.HandlePathBuilt(newPath) // 同一 pivot，覆盖旧条目

	b.HandlePathDied(oldPath)
	// newPath 仍应挂在 builder 上，因为当前条目已不是 oldPath。
	require.Len(t, b.Paths(), 1)
	assert.True(t, b.Paths()[0].Equal(newPath))
}

func TestTickBuildsUrgentlyWhenNoReadyPaths(t *testing.T) {
	var initiated int
	b, _, db, now := newTestBuilder(t, Config{
		HopLength:   3,
		TargetPaths: 3,
		Build: func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error)) {
			initiated++
			onResult(nil, nil)
		},
	})
	putNRCs(t, db, now, 5, 1)

	b.Tick(now)
	assert.Equal(t, 1, initiated, "紧急情况下一次 tick 只应发起一条建路")
}

func TestTickFillsDeficitWhenNotUrgent(t *testing.T) {
	var initiated int
	b, _, db, now := newTestBuilder(t, Config{
		HopLength:   3,
		TargetPaths: 3,
		Build: func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error)) {
			initiated++
			onResult(nil, nil)
		},
	})
	putNRCs(t, db, now, 5, 1)

	hop := path.Hop{RID: nodeID(50), RxID: path.NewHopID(), TxID: path.NewHopID(), Lifetime: time.Minute}
	p := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })
	b.HandlePathBuilt(p)

	b.Tick(now)
	assert.Equal(t, 2, initiated, "已有 1 条就绪路径，目标 3 条，应补 2 条")
}

func TestTickNoOpWhenTargetMet(t *testing.T) {
	var initiated int
	b, _, _, now := newTestBuilder(t, Config{
		HopLength:   3,
		TargetPaths: 1,
		Build: func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error)) {
			initiated++
			onResult(nil, nil)
		},
	})
	hop := path.Hop{RID: nodeID(60), RxID: path.NewHopID(), TxID: path.NewHopID(), Lifetime: time.Minute}
	p := path.New([]path.Hop{hop}, false, true, now, func(types.NodeID, []byte) error { return nil })
	b.HandlePathBuilt(p)

	b.Tick(now)
	assert.Equal(t, 0, initiated)
}

func TestBuildPathToRandomBuildErrorRegistersNoPath(t *testing.T) {
	buildErr := errors.New("handshake failed")
	b, _, db, now := newTestBuilder(t, Config{
		HopLength: 3,
		Build: func(hops []*rc.RouterContact, now time.Time, onResult func(*path.Path, error)) {
			onResult(nil, buildErr)
		},
	})
	putNRCs(t, db, now, 5, 1)

	ok := b.buildPathToRandom(now)
	assert.True(t, ok, "发起成功不代表建路成功")
	assert.Equal(t, 0, b.ReadyCount(now))
}
