package introset

import (
	"bytes"
	"encoding/gob"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dr7ana/lokinet/internal/core/storage/kv"
	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
	"github.com/dr7ana/lokinet/pkg/lib/log"
)

var storeLogger = log.Logger("overlay/introset/store")

// cacheSize 是本地 LRU 缓存容量，命中省掉一次 kv.Store 读取。
const cacheSize = 1024

// Store 为本地发布的 ISet 提供磁盘持久化，镜像 overlay/nodedb 的
// "内存/缓存 + 磁盘" 分层（spec §12 "Encrypted Introduction Set +
// cache + store"）。它不是 dhtmsg.Handler.services 桶的替代品——后者
// 仍是查询热路径上的权威索引；Store 只负责让已发布的 ISet 在进程重启
// 后可以被 LoadAll 重新灌入该桶。
type Store struct {
	store *kv.Store
	cache *lru.Cache[keyspace.Key, *IntroSet]
}

// NewStore 创建一个以 s 为后端的 Store。s 通常是对 badger 引擎加了
// "is/" 前缀的 kv.Store。
func NewStore(s *kv.Store) *Store {
	cache, _ := lru.New[keyspace.Key, *IntroSet](cacheSize)
	return &Store{store: s, cache: cache}
}

// LoadAll 读取磁盘上所有持久化的 ISet，静默丢弃已过期条目，返回其余
// 部分供调用方灌入 dhtmsg.Handler 的内存桶。
func (s *Store) LoadAll(now time.Time) ([]*IntroSet, error) {
	var out []*IntroSet
	err := s.store.PrefixScan(nil, func(key, value []byte) bool {
		is, err := decodeIntroSet(value)
		if err != nil {
			storeLogger.Warn("dropping corrupted introset record", "key", key, "err", err)
			return true
		}
		if !is.IsLive(now) {
			return true
		}
		s.cache.Add(is.Location, is)
		out = append(out, is)
		return true
	})
	return out, err
}

// Put 持久化一条 ISet 并刷新缓存。
func (s *Store) Put(is *IntroSet) error {
	encoded, err := encodeIntroSet(is)
	if err != nil {
		return err
	}
	if err := s.store.Put(diskKey(is.Location), encoded); err != nil {
		return err
	}
	s.cache.Add(is.Location, is)
	return nil
}

// Get 优先查缓存，未命中时回退磁盘读取。
func (s *Store) Get(loc keyspace.Key) (*IntroSet, bool) {
	if is, ok := s.cache.Get(loc); ok {
		return is, true
	}
	data, err := s.store.Get(diskKey(loc))
	if err != nil {
		return nil, false
	}
	is, err := decodeIntroSet(data)
	if err != nil {
		return nil, false
	}
	s.cache.Add(loc, is)
	return is, true
}

// Delete 从缓存与磁盘中移除 loc 对应的 ISet。
func (s *Store) Delete(loc keyspace.Key) error {
	s.cache.Remove(loc)
	return s.store.Delete(diskKey(loc))
}

func diskKey(loc keyspace.Key) []byte {
	return append([]byte("is/"), loc[:]...)
}

// wireIntroSet 是 IntroSet 在磁盘上的载体；IntroSet 字段全部导出，
// 这里单独建一份镜像只是为了让磁盘格式不随内存结构的字段顺序变化
// （与 overlay/nodedb 的 gobRouterContact 同样的考虑）。
type wireIntroSet struct {
	Location   keyspace.Key
	Ciphertext []byte
	Sig        []byte
	Expiry     time.Time
}

func encodeIntroSet(is *IntroSet) ([]byte, error) {
	var buf bytes.Buffer
	w := wireIntroSet{Location: is.Location, Ciphertext: is.Ciphertext, Sig: is.Sig, Expiry: is.Expiry}
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeIntroSet(data []byte) (*IntroSet, error) {
	var w wireIntroSet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, err
	}
	return &IntroSet{Location: w.Location, Ciphertext: w.Ciphertext, Sig: w.Sig, Expiry: w.Expiry}, nil
}
