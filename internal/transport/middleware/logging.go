package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/land-payment/pkg/logger"
)

const (
	maxLoggedBody = 4 << 10
	redacted      = "[FILTERED]"
)

// Keys masked when they appear anywhere in a header or JSON field name.
var sensitiveSubstrings = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"api_key",
	"session",
	"credential",
	"verif-hash",
	"card_number",
}

// Keys masked only on an exact match; as substrings they would hide
// ordinary fields such as error codes or idempotency keys.
var sensitiveExact = map[string]bool{
	"code": true,
	"otp":  true,
	"pin":  true,
	"cvv":  true,
	"key":  true,
}

func isSensitive(name string) bool {
	name = strings.ToLower(name)
	if sensitiveExact[name] {
		return true
	}
	for _, s := range sensitiveSubstrings {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// LoggingMiddleware logs each request and its response with sensitive fields
// masked. Webhook bodies are signed provider payloads and are never read here.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := logger.FromOr(r.Context(), base)

			var body []byte
			if r.Body != nil && !isWebhook(r) {
				body, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			lg.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"headers", redactHeaders(r.Header),
				"body", redactBody(body),
			)

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			lg.Log(r.Context(), level, "response",
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", rec.size,
				"body", redactBody(rec.body.Bytes()),
			)
		})
	}
}

func isWebhook(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/webhook")
}

// recorder keeps the status and the first maxLoggedBody bytes written.
type recorder struct {
	http.ResponseWriter
	status int
	size   int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if room := maxLoggedBody + 1 - rec.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rec.body.Write(b[:room])
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			out[name] = redacted
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > maxLoggedBody {
		return "[TRUNCATED]"
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		lower := strings.ToLower(string(body))
		for _, s := range sensitiveSubstrings {
			if strings.Contains(lower, s) {
				return "[FILTERED - Contains sensitive data]"
			}
		}
		return string(body)
	}

	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return string(out)
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = redacted
				continue
			}
			out[k] = redactValue(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = redactValue(child)
		}
		return out
	default:
		return v
	}
}
