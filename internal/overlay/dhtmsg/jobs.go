package dhtmsg

import (
	"github.com/dr7ana/lokinet/internal/overlay/introset"
	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/internal/overlay/pendingtx"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/pkg/types"
)

// SendFunc 把一条 DHT 消息发往 peer（经由 DHTSendTo，底层落在
// overlay/transport 上）。
type SendFunc func(peer types.NodeID, msg Message)

// ReplyDownPathFunc 把一条（或多条）DHT 消息作为 PathDHTMessage 回复
// 送下一条本地路径（spec §4.E "reply is delivered down a local
// path"）。
type ReplyDownPathFunc func(pathID path.HopID, msgs ...Message)

// RecursiveRouterLookup 实现 spec §4.E "lookup_router"/
// "LookupRouterRecursive"：代表一次递归路由器查找（对应原始 C++ 实现里
// dht context 的 RecursiveRouterLookup job）。Asker 是最初发起方的键——可能是本节点
// 自己（这时用 Handler 进程内回调），也可能是正在被我们转发查询的某个
// 远端请求者（这时 Handler 为 nil，结果改为通过 Send 回送一条
// GotRouterMessage 给 Asker，带着它原始的 AskerTx）。
type RecursiveRouterLookup struct {
	Asker   types.NodeID
	AskerTx uint64
	Target  types.NodeID
	Send    SendFunc
	Handler func(rc *rc.RouterContact, found bool)
}

func (j *RecursiveRouterLookup) Start(owner pendingtx.Owner) {
	j.Send(owner.Peer, &FindRouterMessage{Tx: owner.TxID, Target: j.Target, Recursive: true})
}

func (j *RecursiveRouterLookup) OnValues(values []*rc.RouterContact) bool {
	j.deliver(values)
	return true
}

func (j *RecursiveRouterLookup) SendReply(timedOut bool) {
	if timedOut {
		j.deliver(nil)
	}
}

func (j *RecursiveRouterLookup) deliver(values []*rc.RouterContact) {
	if j.Handler != nil {
		if len(values) > 0 {
			j.Handler(values[0], true)
		} else {
			j.Handler(nil, false)
		}
		return
	}
	j.Send(j.Asker, &GotRouterMessage{Tx: j.AskerTx, RCs: values})
}

// LocalRouterLookup 实现 spec §4.E "lookup_router_for_path"：查找结果
// 不交给进程内回调,而是打包成 PathDHTMessage 回送发起请求的本地路径。
type LocalRouterLookup struct {
	PathID  path.HopID
	ReplyTx uint64
	Target  types.NodeID
	Send    SendFunc
	Reply   ReplyDownPathFunc
}

func (j *LocalRouterLookup) Start(owner pendingtx.Owner) {
	j.Send(owner.Peer, &FindRouterMessage{Tx: owner.TxID, Target: j.Target, Recursive: false})
}

func (j *LocalRouterLookup) OnValues(values []*rc.RouterContact) bool {
	j.Reply(j.PathID, &GotRouterMessage{Tx: j.ReplyTx, RCs: values})
	return true
}

func (j *LocalRouterLookup) SendReply(timedOut bool) {
	if timedOut {
		j.Reply(j.PathID, &GotRouterMessage{Tx: j.ReplyTx})
	}
}

// ServiceAddressLookup 实现 spec §4.E "lookup_introset_relayed"/
// "lookup_introset_direct" 的进程内回调变体；两者只在 NewTX 调用处的
// 超时参数上有差异（relayed 用表默认超时，direct 用 1s），Job 本身相同。
type ServiceAddressLookup struct {
	Addr       types.NodeID
	RelayOrder uint64
	Send       SendFunc
	Handler    func(iset *introset.IntroSet, found bool)
}

func (j *ServiceAddressLookup) Start(owner pendingtx.Owner) {
	j.Send(owner.Peer, &FindIntroSetMessage{Tx: owner.TxID, Location: j.Addr, RelayOrder: j.RelayOrder})
}

func (j *ServiceAddressLookup) OnValues(values []*introset.IntroSet) bool {
	if len(values) > 0 {
		j.Handler(values[0], true)
	} else {
		j.Handler(nil, false)
	}
	return true
}

func (j *ServiceAddressLookup) SendReply(timedOut bool) {
	if timedOut {
		j.Handler(nil, false)
	}
}

// LocalServiceAddressLookup 实现 spec §4.E "lookup_introset_for_path"：
// 查找结果打包送回本地路径,而不是进程内回调。
type LocalServiceAddressLookup struct {
	PathID     path.HopID
	ReplyTx    uint64
	RelayOrder uint64
	Addr       types.NodeID
	Send       SendFunc
	Reply      ReplyDownPathFunc
}

func (j *LocalServiceAddressLookup) Start(owner pendingtx.Owner) {
	j.Send(owner.Peer, &FindIntroSetMessage{Tx: owner.TxID, Location: j.Addr, RelayOrder: j.RelayOrder})
}

func (j *LocalServiceAddressLookup) OnValues(values []*introset.IntroSet) bool {
	var found *introset.IntroSet
	if len(values) > 0 {
		found = values[0]
	}
	j.Reply(j.PathID, &GotIntroSetMessage{Tx: j.ReplyTx, ISet: found, Found: found != nil})
	return true
}

func (j *LocalServiceAddressLookup) SendReply(timedOut bool) {
	if timedOut {
		j.Reply(j.PathID, &GotIntroSetMessage{Tx: j.ReplyTx})
	}
}

// PublishJob 实现 spec §4.E "propagate_local_introset"/
// "propagate_introset_to"：向 tellpeer 发布一份 ISet。Reply/PathID 为
// nil 时是 propagate_introset_to（无需回送本地路径的确认）；否则是
// propagate_local_introset（把发布结果回送发起的本地路径）。
type PublishJob struct {
	RelayOrder uint64
	ISet       *introset.IntroSet
	Send       SendFunc
	PathID     *path.HopID
	ReplyTx    uint64
	Reply      ReplyDownPathFunc
}

func (j *PublishJob) Start(owner pendingtx.Owner) {
	j.Send(owner.Peer, &PublishIntroSetMessage{Tx: owner.TxID, ISet: j.ISet, RelayOrder: j.RelayOrder})
}

func (j *PublishJob) OnValues(values []*introset.IntroSet) bool {
	j.finish()
	return true
}

func (j *PublishJob) SendReply(timedOut bool) {
	j.finish()
}

func (j *PublishJob) finish() {
	if j.PathID != nil && j.Reply != nil {
		j.Reply(*j.PathID, &GotIntroSetMessage{Tx: j.ReplyTx, Found: true})
	}
}

// ExploreNetworkJob 实现 spec §4.E 网络探索：向 askpeer 请求其已知的
// 邻居，累积到 valuesFound，超时后对每个尚不认识的候选节点触发一次
// 常规路由器查找（累积再探索的job 结构对应原始 C++ 实现里的
// explorenetworkjob）。
type ExploreNetworkJob struct {
	Send    SendFunc
	Known   func(types.NodeID) bool
	Explore func(types.NodeID)

	valuesFound []types.NodeID
}

func (j *ExploreNetworkJob) Start(owner pendingtx.Owner) {
	j.Send(owner.Peer, &ExploreNetworkMessage{Tx: owner.TxID})
}

func (j *ExploreNetworkJob) OnValues(values []types.NodeID) bool {
	j.valuesFound = append(j.valuesFound, values...)
	return false
}

func (j *ExploreNetworkJob) SendReply(bool) {
	for _, id := range j.valuesFound {
		if j.Known(id) {
			continue
		}
		j.Explore(id)
	}
}
