package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ローカル予備認証情報のハッシュパラメータ。
// 保存形式は base64(salt || key)。
const (
	PasswordIterations = 120_000
	passwordSaltLen    = 16
	passwordKeyLen     = 32
)

// HashPassword はPBKDF2-HMAC-SHA256でパスワードをハッシュ化する。ソルトは毎回生成する。
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, PasswordIterations, passwordKeyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, key...)), nil
}

// VerifyPassword はHashPasswordで生成した値とパスワードが一致するかを返す。
func VerifyPassword(encoded, password string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != passwordSaltLen+passwordKeyLen {
		return false
	}
	salt, want := raw[:passwordSaltLen], raw[passwordSaltLen:]
	got := pbkdf2.Key([]byte(password), salt, PasswordIterations, passwordKeyLen, sha256.New)
	return hmac.Equal(got, want)
}
