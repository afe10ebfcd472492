package storeclient

import "context"

type ctxKey int

const accessTokenKey ctxKey = 0

// WithAccessToken 把调用者的访问令牌放入 context，传输层会用它代替匿名密钥。
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenKey, token)
}

// AccessToken 从 context 取出调用者令牌，没有时返回空串
func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey).(string)
	return token
}
