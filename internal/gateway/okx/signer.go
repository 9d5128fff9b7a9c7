package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"aitrade/internal/types"
)

const (
	headerKey        = "OK-ACCESS-KEY"
	headerSign       = "OK-ACCESS-SIGN"
	headerPassphrase = "OK-ACCESS-PASSPHRASE"
	headerTimestamp  = "OK-ACCESS-TIMESTAMP"
	headerSimulated  = "x-simulated-trading"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Timestamp 毫秒精度 ISO-8601 UTC。
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Sign 计算 base64(HMAC-SHA256(secret, timestamp+METHOD+requestPath+body))。
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// applyAuth 写入签名相关请求头。
func applyAuth(h http.Header, c types.OKXCredentials, timestamp, method, requestPath, body string) {
	h.Set(headerKey, c.APIKey)
	h.Set(headerSign, Sign(c.SecretKey, timestamp, method, requestPath, body))
	h.Set(headerPassphrase, c.Passphrase)
	h.Set(headerTimestamp, timestamp)
	h.Set("Content-Type", "application/json")
	if c.Sandbox {
		h.Set(headerSimulated, "1")
	}
}
