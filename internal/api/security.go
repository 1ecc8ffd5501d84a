package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/dealhound/dealhound/internal/domain/auth"
)

type authCtxKey struct{}

// Authenticated reports whether the request presented a valid API key.
func Authenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authCtxKey{}).(bool)
	return v
}

// APIKeyAuth authenticates requests carrying an api_key header by hashing
// the key with the configured pepper, looking up the hash, and performing a
// constant-time comparison to prevent timing attacks. Requests without a
// valid key proceed as anonymous; the key only unlocks the larger batch
// limit.
func APIKeyAuth(keys auth.Repository, pepper string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("api_key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			mac := hmac.New(sha256.New, []byte(pepper))
			mac.Write([]byte(key))
			sum := mac.Sum(nil)
			hexHash := hex.EncodeToString(sum)

			info, err := keys.FindByHash(r.Context(), hexHash)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			// Constant-time comparison guards against timing side-channels even
			// though the lookup already succeeded.
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), authCtxKey{}, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
