// Package dhtmsg 实现 spec §4.E 的 DHT Message Handler：分发入站 DHT
// 消息、在递归/迭代转发之间选择、服务探索式查找，并维护 RC/ISet 的
// TTL。消息以内存对象表示——wire 级别的长度前缀字典编码是 spec §1 声明
// 的外部依赖，不属于本包职责。
package dhtmsg

import (
	"github.com/dr7ana/lokinet/internal/overlay/introset"
	"github.com/dr7ana/lokinet/internal/overlay/path"
	"github.com/dr7ana/lokinet/internal/overlay/rc"
	"github.com/dr7ana/lokinet/pkg/types"
)

// Message 是 DHT 消息分发的统一接口；具体消息种类见下文。
type Message interface {
	TxID() uint64
}

// FindRouterMessage 请求 target 对应的 RC（spec §4.E "lookup_router" 的
// 线上对应物）。Recursive 为 true 表示发起方希望接收方在未命中时继续
// 递归转发，而不是只给出一个更近的提示。
type FindRouterMessage struct {
	Tx        uint64
	Target    types.NodeID
	Recursive bool
}

func (m *FindRouterMessage) TxID() uint64 { return m.Tx }

// GotRouterMessage 是 FindRouterMessage 的回复：或者带着命中的 RC，
// 或者（探索式查找、迭代提示场景）带着一组候选 RouterID。
type GotRouterMessage struct {
	Tx             uint64
	RCs            []*rc.RouterContact
	ClosestRouters []types.NodeID
}

func (m *GotRouterMessage) TxID() uint64 { return m.Tx }

// FindIntroSetMessage 请求 location 对应的加密引入集合。RelayOrder
// 在发布场景下选择等距副本中的哪一个；查找场景下原样回传。
type FindIntroSetMessage struct {
	Tx         uint64
	Location   types.NodeID
	RelayOrder uint64
}

func (m *FindIntroSetMessage) TxID() uint64 { return m.Tx }

// GotIntroSetMessage 是 FindIntroSetMessage 的回复。Found 为 false 时
// ISet 为 nil。
type GotIntroSetMessage struct {
	Tx    uint64
	ISet  *introset.IntroSet
	Found bool
}

func (m *GotIntroSetMessage) TxID() uint64 { return m.Tx }

// PublishIntroSetMessage 请求 tellpeer 存储/转发给定的 ISet。
type PublishIntroSetMessage struct {
	Tx         uint64
	ISet       *introset.IntroSet
	RelayOrder uint64
}

func (m *PublishIntroSetMessage) TxID() uint64 { return m.Tx }

// ExploreNetworkMessage 请求对端给出它已知的、除自己与请求者之外最近的
// 若干路由器（spec §4.E "handle_exploratory_router_lookup"）。
type ExploreNetworkMessage struct {
	Tx uint64
}

func (m *ExploreNetworkMessage) TxID() uint64 { return m.Tx }

// PathDHTMessage 把一批 DHT 消息打包送回某条本地路径（spec §6
// "wrapped in PathDHTMessage for path-relayed replies"）。
type PathDHTMessage struct {
	PathID path.HopID
	Inner  []Message
}
