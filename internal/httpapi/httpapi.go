// Package httpapi provides the coordinator's informative HTTP adapter:
// a thin, auth-gated, rate-limited surface over the encrypt/decrypt/
// public-key operations, built on net/http alone. The broker remains the
// only channel between the coordinator and the workers; this package
// exists purely to let an external caller request an encryption or
// decryption without speaking AMQP itself.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/drand/threshold-decrypt/internal/log"
	"github.com/drand/threshold-decrypt/internal/tcrypto"
)

// Coordinator is the subset of *coordinator.Service the HTTP adapter
// depends on.
type Coordinator interface {
	PublicKey() ([]byte, error)
	Encrypt(plaintext []byte) (tcrypto.Ciphertext, error)
	Decrypt(ct tcrypto.Ciphertext) ([]byte, error)
}

// API is the coordinator's HTTP adapter.
type API struct {
	coord     Coordinator
	log       log.Logger
	authToken string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New constructs an API backed by coord. If authToken is non-empty,
// every request other than /healthz must carry a matching
// "Authorization: Bearer <authToken>" header.
func New(coord Coordinator, logger log.Logger, authToken string) *API {
	return &API{
		coord:     coord,
		log:       logger,
		authToken: authToken,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler returns the adapter's http.Handler, with auth and rate
// limiting applied to every route except /healthz.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/public-key", a.guard(http.HandlerFunc(a.handlePublicKey)))
	mux.Handle("/encrypt-message", a.guard(http.HandlerFunc(a.handleEncrypt)))
	mux.Handle("/decrypt-message", a.guard(http.HandlerFunc(a.handleDecrypt)))
	return mux
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func (a *API) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	pub, err := a.coord.PublicKey()
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: base64.StdEncoding.EncodeToString(pub)})
}

// messageRequest and messageResponse implement spec §6's single-field
// envelope: callers never see the internal (U, V) ciphertext split, only
// one opaque base64 blob produced and consumed by
// tcrypto.Ciphertext.Marshal/UnmarshalCiphertext.
type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	plaintext, err := base64.StdEncoding.DecodeString(req.Message)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	ct, err := a.coord.Encrypt(plaintext)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.writeJSON(w, http.StatusOK, messageResponse{Message: base64.StdEncoding.EncodeToString(ct.Marshal())})
}

func (a *API) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.Message)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	ct, err := tcrypto.UnmarshalCiphertext(raw)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	plaintext, err := a.coord.Decrypt(ct)
	if err != nil {
		a.writeError(w, http.StatusGatewayTimeout, err)
		return
	}

	a.writeJSON(w, http.StatusOK, messageResponse{Message: base64.StdEncoding.EncodeToString(plaintext)})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Warnw("failed to write json response", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.log.Warnw("request failed", "status", status, "err", err)
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// guard wraps next with bearer-token authentication followed by
// per-client-IP rate limiting.
func (a *API) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authToken != "" && !a.authorized(r) {
			a.writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		if !a.allow(r) {
			a.writeError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return header[len(prefix):] == a.authToken
}

// requestsPerMinute is the rate every client IP is limited to, matching
// the 10 req/min limiter in the original service.
const requestsPerMinute = 10

func (a *API) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	a.limiterMu.Lock()
	limiter, ok := a.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
		a.limiters[host] = limiter
	}
	a.limiterMu.Unlock()

	return limiter.Allow()
}
