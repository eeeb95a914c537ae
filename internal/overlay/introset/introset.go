// Package introset 实现 spec §3 的加密引入集合（ISet）：隐藏服务的
// 可发布会合描述。明文结构对目录完全不透明——只有知道明文地址的人才
// 能解密（spec §3 "Decryption requires knowledge of the clear address"）。
package introset

import (
	"errors"
	"time"

	"github.com/dr7ana/lokinet/internal/overlay/keyspace"
)

var (
	// ErrExpired 表示 ISet 在被使用时已过期。
	ErrExpired = errors.New("introset: expired")
	// ErrCannotDecrypt 表示使用给定地址无法解密密文。
	ErrCannotDecrypt = errors.New("introset: cannot decrypt with given address")
)

// IntroSet 是 spec §3 "ISet" 的内存表示：
// {location, ciphertext, sig, expiry}。
type IntroSet struct {
	Location   keyspace.Key
	Ciphertext []byte
	Sig        []byte
	Expiry     time.Time
}

// IsLive 报告 now < Expiry。
func (is *IntroSet) IsLive(now time.Time) bool {
	return now.Before(is.Expiry)
}

// Decrypter 解密给定明文地址对应的密文；外部密码学原语的契约由
// spec §1 声明为可用但不在核心范围内，此处仅消费其结果。
type Decrypter func(clearAddr string, ciphertext []byte) (plaintext []byte, err error)

// Decrypt 使用注入的 dec 函数尝试以 clearAddr 解密本 ISet。
func Decrypt(is *IntroSet, clearAddr string, now time.Time, dec Decrypter) ([]byte, error) {
	if !is.IsLive(now) {
		return nil, ErrExpired
	}
	plain, err := dec(clearAddr, is.Ciphertext)
	if err != nil {
		return nil, ErrCannotDecrypt
	}
	return plain, nil
}
