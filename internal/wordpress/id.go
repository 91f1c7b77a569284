package wordpress

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// parseID はWordPressのユーザーIDを取り出す。
// 数値・数値文字列のどちらも受け付け、正の整数でなければnilを返す。
func parseID(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		n = json.Number(strings.TrimSpace(s))
	}
	return positiveID(string(n))
}

func positiveID(s string) *int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// UserIDFromToken はjwt-authプラグインが発行したトークンのクレーム
// data.user.id からユーザーIDを取り出す。
// 署名は検証しない。トークンはプロバイダから直接受け取ったものに限って使うこと。
// JWTでない、または該当クレームが無い場合はnilを返す。
func UserIDFromToken(token string) *int64 {
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	data, ok := claims["data"].(map[string]any)
	if !ok {
		return nil
	}
	user, ok := data["user"].(map[string]any)
	if !ok {
		return nil
	}

	switch v := user["id"].(type) {
	case string:
		return positiveID(strings.TrimSpace(v))
	case float64:
		if v != float64(int64(v)) {
			return nil
		}
		return positiveID(strconv.FormatInt(int64(v), 10))
	case json.Number:
		return positiveID(v.String())
	default:
		return nil
	}
}
