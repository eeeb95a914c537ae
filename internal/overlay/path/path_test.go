package path

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr7ana/lokinet/pkg/types"
)

// xorSeal/xorOpen 是测试用的占位 AEAD：用跳密钥对明文逐字节 XOR，
// 可逆且足以验证套娃/拆娃的跳序是否正确，不代表真实密码学原语。
func xorSeal(key [32]byte, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ key[i%len(key)]
	}
	return out, nil
}

func xorOpen(key [32]byte, ciphertext []byte) ([]byte, error) {
	return xorSeal(key, ciphertext)
}

func makeHops(n int) []Hop {
	hops := make([]Hop, n)
	for i := range hops {
		var rid types.NodeID
		rid[0] = byte(i + 1)
		var key [32]byte
		key[0] = byte(i + 1)
		hops[i] = Hop{RID: rid, RxID: NewHopID(), TxID: NewHopID(), Key: key, Lifetime: time.Minute}
	}
	return hops
}

func TestNewPathStartsBuilding(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	assert.Equal(t, StateBuilding, p.State())
	assert.False(t, p.IsReady())
}

func TestSetEstablishedOnlyFromBuilding(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()
	assert.Equal(t, StateEstablished, p.State())
	assert.True(t, p.IsReady())

	// 重复调用是幂等的，也不会从 ESTABLISHED 之外的状态跳回。
	p.MarkExpired()
	assert.Equal(t, StateExpired, p.State())
	p.SetEstablished()
	assert.Equal(t, StateExpired, p.State(), "SetEstablished 只能从 BUILDING 生效")
}

func TestMarkBuildFailedOnlyFromBuilding(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()
	p.MarkBuildFailed()
	assert.Equal(t, StateEstablished, p.State(), "已建立的路径不应被 MarkBuildFailed 影响")

	p2 := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p2.MarkBuildFailed()
	assert.Equal(t, StateDead, p2.State())
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()

	plaintext := []byte("hello onion")
	wrapped, err := p.wrap(xorSeal, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, wrapped)

	unwrapped, err := p.unwrap(xorOpen, wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, unwrapped)
}

func TestSendPathControlMessageRequiresReady(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	err := p.SendPathControlMessage(now, time.Second, xorSeal, "find_name", []byte("x.loki"), nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSendPathControlMessageAndReplyRoundTrip(t *testing.T) {
	now := time.Now()
	var sent []byte
	p := New(makeHops(3), false, true, now, func(upstream types.NodeID, payload []byte) error {
		sent = payload
		return nil
	})
	p.SetEstablished()

	replies := make(chan []byte, 1)
	err := p.ResolveONS(now, time.Second, xorSeal, "alice.loki", func(body []byte, timedOut bool) {
		require.False(t, timedOut)
		replies <- body
	})
	require.NoError(t, err)
	require.NotEmpty(t, sent)

	// HandleControlReply 按本地分配的 id=0（第一条消息）认领回复。
	matched := p.HandleControlReply(0, []byte("reply-body"))
	assert.True(t, matched)

	select {
	case body := <-replies:
		assert.Equal(t, []byte("reply-body"), body)
	case <-time.After(time.Second):
		t.Fatal("回调未被调用")
	}

	// 同一个 id 不能被认领第二次。
	assert.False(t, p.HandleControlReply(0, nil))
}

func TestHandleControlReplyUnknownID(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()
	assert.False(t, p.HandleControlReply(999, nil))
}

func TestCloseResolvesPendingAsTimedOut(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()

	var gotTimeout bool
	err := p.ResolveONS(now, time.Second, xorSeal, "bob.loki", func(body []byte, timedOut bool) {
		gotTimeout = timedOut
	})
	require.NoError(t, err)

	p.Close()
	assert.Equal(t, StateClosed, p.State())
	assert.True(t, gotTimeout)
}

func TestExpirePendingOnTimeout(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()

	var timedOut bool
	err := p.ResolveONS(now, 100*time.Millisecond, xorSeal, "carol.loki", func(body []byte, to bool) {
		timedOut = to
	})
	require.NoError(t, err)

	p.Tick(now.Add(time.Second), time.Hour, time.Hour, xorSeal)
	assert.True(t, timedOut)
}

func TestIsExpiredAndExpiresSoon(t *testing.T) {
	now := time.Now()
	hops := makeHops(3)
	hops[0].Lifetime = 10 * time.Second
	p := New(hops, false, true, now, func(types.NodeID, []byte) error { return nil })

	assert.False(t, p.IsExpired(now))
	assert.False(t, p.ExpiresSoon(now, 0))
	assert.True(t, p.ExpiresSoon(now.Add(6*time.Second), 0), "5s 护栏内应判定为即将到期")
	assert.True(t, p.IsExpired(now.Add(11*time.Second)))
}

func TestRebuildKeepsHopRIDsNewIDs(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })

	fresh := p.Rebuild(now.Add(time.Minute))
	require.Len(t, fresh.Hops(), len(p.Hops()))
	for i := range p.Hops() {
		assert.Equal(t, p.Hops()[i].RID, fresh.Hops()[i].RID)
		assert.NotEqual(t, p.Hops()[i].RxID, fresh.Hops()[i].RxID)
		assert.NotEqual(t, p.Hops()[i].TxID, fresh.Hops()[i].TxID)
	}
	assert.Equal(t, StateBuilding, fresh.State())
}

func TestLessOrdersByFirstHop(t *testing.T) {
	now := time.Now()
	hopsA := makeHops(1)
	hopsA[0].RID[0] = 1
	hopsB := makeHops(1)
	hopsB[0].RID[0] = 2

	a := New(hopsA, false, true, now, func(types.NodeID, []byte) error { return nil })
	b := New(hopsB, false, true, now, func(types.NodeID, []byte) error { return nil })
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestSendPathDataMessageRequiresReady(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	err := p.SendPathDataMessage(now, xorSeal, []byte("data"))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestTickMarksDeadWhenLatencyProbeUnanswered(t *testing.T) {
	now := time.Now()
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return nil })
	p.SetEstablished()

	// 第一次 tick：空闲超过阈值，发出探测。
	p.Tick(now.Add(2*time.Second), time.Second, 3*time.Second, xorSeal)
	assert.Equal(t, StateEstablished, p.State())

	// 第二次 tick：探测仍未获得应答，且超过 latencyTimeout。
	p.Tick(now.Add(10*time.Second), time.Second, 3*time.Second, xorSeal)
	assert.Equal(t, StateDead, p.State())
}

func TestUpstreamAndPivotAccessors(t *testing.T) {
	now := time.Now()
	hops := makeHops(3)
	p := New(hops, false, true, now, func(types.NodeID, []byte) error { return nil })
	assert.Equal(t, hops[0].RID, p.Upstream())
	assert.Equal(t, hops[len(hops)-1].RID, p.PivotRID())
	assert.Equal(t, hops[0].RxID, p.UpstreamRxID())
	assert.Equal(t, hops[len(hops)-1].TxID, p.PivotTxID())
}

func TestSealErrorPropagates(t *testing.T) {
	now := time.Now()
	sendErr := errors.New("boom")
	p := New(makeHops(3), false, true, now, func(types.NodeID, []byte) error { return sendErr })
	p.SetEstablished()
	err := p.SendPathDataMessage(now, xorSeal, []byte("x"))
	assert.ErrorIs(t, err, sendErr)
}
