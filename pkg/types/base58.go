// Package types 提供 Base58 编码/解码
//
// Base58 是 Bitcoin 风格的编码，避免了易混淆字符（0OIl）。
package types

import (
	"errors"

	"github.com/mr-tron/base58"
)

var (
	// ErrInvalidBase58Char 无效的 Base58 字符
	ErrInvalidBase58Char = errors.New("invalid base58 character")

	// ErrInvalidBase58Checksum 无效的 Base58 校验和
	ErrInvalidBase58Checksum = errors.New("invalid base58 checksum")
)

// Base58Encode 将字节切片编码为 Base58 字符串
func Base58Encode(input []byte) string {
	if len(input) == 0 {
		return ""
	}
	return base58.Encode(input)
}

// Base58Decode 将 Base58 字符串解码为字节切片
func Base58Decode(input string) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	decoded, err := base58.Decode(input)
	if err != nil {
		return nil, ErrInvalidBase58Char
	}
	return decoded, nil
}
