package dhtmsg

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/dr7ana/lokinet/pkg/lib/log"
)

var codecLogger = log.Logger("overlay/dhtmsg/codec")

// ErrMalformedMessage 对应 spec §7 的 ProtocolError：入站帧无法解出
// 一个合法的 Message。
var ErrMalformedMessage = fmt.Errorf("dhtmsg: malformed message")

func init() {
	gob.Register(&FindRouterMessage{})
	gob.Register(&GotRouterMessage{})
	gob.Register(&FindIntroSetMessage{})
	gob.Register(&GotIntroSetMessage{})
	gob.Register(&PublishIntroSetMessage{})
	gob.Register(&ExploreNetworkMessage{})
}

// EncodeMessage 把单条消息编码为一个 varint 长度前缀帧,交给
// overlay/transport.SendControl 之类的字节面传输（长度前缀字典编码的
// 具体字典格式被当作外部依赖看待,这里只提供框架层面的长度前缀,不是
// 字典编码本身;复用 go-varint 而不是重新发明一种前缀格式）。
func EncodeMessage(m Message) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&m); err != nil {
		return nil, fmt.Errorf("dhtmsg: encode: %w", err)
	}
	prefix := varint.ToUvarint(uint64(payload.Len()))
	out := make([]byte, 0, len(prefix)+payload.Len())
	out = append(out, prefix...)
	out = append(out, payload.Bytes()...)
	return out, nil
}

// DecodeMessage 解出 EncodeMessage 写下的单条帧,返回消息与帧后剩余的
// 字节（PathDHTMessage 场景下一次传输可能拼接了多条帧）。
func DecodeMessage(buf []byte) (msg Message, rest []byte, err error) {
	r := bytes.NewReader(buf)
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: length prefix: %v", ErrMalformedMessage, err)
	}
	start := len(buf) - r.Len()
	end := start + int(n)
	if end > len(buf) {
		return nil, nil, fmt.Errorf("%w: truncated frame", ErrMalformedMessage)
	}

	var decoded Message
	dec := gob.NewDecoder(bytes.NewReader(buf[start:end]))
	if err := dec.Decode(&decoded); err != nil {
		return nil, nil, fmt.Errorf("%w: payload: %v", ErrMalformedMessage, err)
	}
	return decoded, buf[end:], nil
}

// EncodeMessages 把多条消息依次编码成一段连续的帧序列,用于
// PathDHTMessage 沿一条本地路径回送多条 DHT 回复。
func EncodeMessages(msgs []Message) ([]byte, error) {
	var out bytes.Buffer
	for _, m := range msgs {
		framed, err := EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		out.Write(framed)
	}
	return out.Bytes(), nil
}

// DecodeMessages 解出 EncodeMessages 写下的整段帧序列。遇到一条坏帧就
// 停止并丢弃其后的数据——协议错误断开这一条消息流,不影响已经解出的
// 前面那些（spec §7 ProtocolError: "malformed inbound message;
// connection dropped, TX untouched"）。
func DecodeMessages(buf []byte) []Message {
	var out []Message
	for len(buf) > 0 {
		m, rest, err := DecodeMessage(buf)
		if err != nil {
			codecLogger.Warn("dropping malformed trailing frame", "err", err)
			return out
		}
		out = append(out, m)
		buf = rest
	}
	return out
}
