package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scryptのパラメータ。保存済みハッシュとの互換性のため変更しないこと。
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltBytes    = 16
)

// ErrMalformedHash は保存済みハッシュの形式が不正な場合に返される。
var ErrMalformedHash = errors.New("malformed password hash")

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// ScryptHasher はscryptによるPasswordHasherの実装。
// ハッシュは "hex(key).hex(salt)" 形式で、鍵導出には16進表現のソルト文字列をそのまま使う。
type ScryptHasher struct{}

// Hash はランダムなソルトでパスワードをハッシュ化する。
func (ScryptHasher) Hash(password string) (string, error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)

	key, err := deriveKey(password, salt)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key) + "." + salt, nil
}

// Verify はパスワードが保存済みハッシュと一致するかを定数時間で比較する。
func (ScryptHasher) Verify(password, encoded string) (bool, error) {
	keyHex, salt, ok := strings.Cut(encoded, ".")
	if !ok || keyHex == "" || salt == "" {
		return false, ErrMalformedHash
	}
	stored, err := hex.DecodeString(keyHex)
	if err != nil || len(stored) != scryptKeyLen {
		return false, ErrMalformedHash
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, stored) == 1, nil
}

func deriveKey(password, salt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
