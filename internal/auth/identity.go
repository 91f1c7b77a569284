package auth

import (
	"strings"

	"github.com/hitoshi/mobilbff/internal/model"
)

// adminRole はsuper_adminに対応付けるWordPressのロール。
const adminRole = "administrator"

// DeriveRole はWordPressのロール一覧からローカルのロールを決める。
// 大文字小文字と前後空白は区別しない。
func DeriveRole(roles []string) model.Role {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), adminRole) {
			return model.RoleSuperAdmin
		}
	}
	return model.RoleCustomer
}

// SplitName は表示名を空白で分割し、先頭を名、残りを姓として返す。
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// ValidEmailShape はemailが local@domain.tld の形をしているかを返す。
func ValidEmailShape(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}
