package middleware

import "net/http"

// apiSecurityHeaders はすべてのレスポンスに付与するヘッダー。
// タスクは利用者ごとの非公開データなので、中間キャッシュにも保存させない。
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
}

// NewSecurityHeadersMiddleware はAPIレスポンス用のセキュリティヘッダーを付与する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range apiSecurityHeaders {
				w.Header().Set(key, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
