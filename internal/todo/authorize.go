package todo

import "github.com/hitoshi/todoman/internal/model"

// Decision は認可判定の結果。
type Decision int

const (
	// Deny はアクセスを拒否する。ゼロ値。
	Deny Decision = iota
	// Permit はアクセスを許可する。
	Permit
)

// String はログ出力用の表現を返す。
func (d Decision) String() string {
	if d == Permit {
		return "permit"
	}
	return "deny"
}

// Authorize はuserIDがタスクの所有者である場合に限りPermitを返す。
// 副作用を持たない純粋関数で、nilのタスクやuserIDが空の場合はDenyとなる。
func Authorize(userID string, t *model.Todo) Decision {
	if t == nil || userID == "" {
		return Deny
	}
	if t.UserID == userID {
		return Permit
	}
	return Deny
}
