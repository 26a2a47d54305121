package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	pkgredis "github.com/Cdineshreddy12/Wrapper-sub013/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	defaultIdemTTL    = 24 * time.Hour
	// inFlightTTL bounds how long a crashed request blocks its key.
	inFlightTTL       = time.Minute
	maxIdempotentBody = 1 << 20
	inFlightStatus    = -1
)

// replayHeaders are stored with the response and restored on replay.
var replayHeaders = []string{"Content-Type", "Location"}

type idempotencyRule struct {
	method  string
	pattern string
	// scale multiplies the configured TTL for routes whose replays are
	// expensive to get wrong.
	scale int
}

// Purchases are absent: they are keyed by their payment reference.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/v1/credits/consume", scale: 1},
	{method: http.MethodPost, pattern: "/api/v1/credits/transfers", scale: 7},
	{method: http.MethodPost, pattern: "/api/v1/allocations", scale: 1},
	{method: http.MethodPost, pattern: "/api/v1/allocations/{allocationId}/consume", scale: 1},
	{method: http.MethodPost, pattern: "/api/v1/campaigns", scale: 1},
	{method: http.MethodPost, pattern: "/api/v1/campaigns/{campaignId}/extend", scale: 1},
}

// storedResponse is the redis value under an idempotency key. Status is
// inFlightStatus while the first request is running.
type storedResponse struct {
	Status      int               `json:"status"`
	Body        []byte            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the routes listed above. The key is scoped to tenant, actor and path. A key
// reused with a different body is rejected, a key whose first request is
// still running yields a conflict, and 5xx responses are not stored so the
// caller can retry.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdemTTL
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchIdempotencyRule(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body unreadable or too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			marker, _ := json.Marshal(storedResponse{Status: inFlightStatus, RequestHash: hash})
			reserved, err := store.SetNX(ctx, key, string(marker), inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				if err := replay(ctx, store, key, hash, w); err != nil {
					fail(err)
				}
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			bg := context.WithoutCancel(ctx)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Del(bg, key); err != nil {
					logg.Error(ctx, "clear idempotency reservation", err)
				}
				return
			}

			saved := storedResponse{Status: status, Body: captured.Bytes(), RequestHash: hash}
			for _, h := range replayHeaders {
				if v := ww.Header().Get(h); v != "" {
					if saved.Headers == nil {
						saved.Headers = map[string]string{}
					}
					saved.Headers[h] = v
				}
			}
			payload, _ := json.Marshal(saved)
			if err := store.Set(bg, key, string(payload), ttl*time.Duration(rule.scale)); err != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

// replay writes the stored response, or returns the error to send instead.
func replay(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, w http.ResponseWriter) error {
	inFlight := pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress")

	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return inFlight
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	var saved storedResponse
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	switch {
	case saved.RequestHash != hash:
		return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	case saved.Status == inFlightStatus:
		return inFlight
	}

	for h, v := range saved.Headers {
		w.Header().Set(h, v)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(saved.Status)
	_, _ = w.Write(saved.Body)
	return nil
}

func idempotencyScope(r *http.Request) string {
	ctx := r.Context()
	return TenantFromContext(ctx) + "|" + ActorFromContext(ctx) + "|" + r.Method + "|" + r.URL.Path
}

func matchIdempotencyRule(r *http.Request) (idempotencyRule, bool) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	for _, rule := range idempotencyRules {
		if rule.method == r.Method && matchPattern(rule.pattern, path) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

// matchPattern compares segment by segment; {param} segments match any
// non-empty value.
func matchPattern(pattern, path string) bool {
	want := strings.Split(pattern, "/")
	got := strings.Split(path, "/")
	if len(want) != len(got) {
		return false
	}
	for i, segment := range want {
		isParam := strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
		if (isParam && got[i] == "") || (!isParam && segment != got[i]) {
			return false
		}
	}
	return true
}
