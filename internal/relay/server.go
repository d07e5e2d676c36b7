// Package relay bridges a client websocket to an interactive shell on the
// target host, recording the raw transcript and a parsed command log, and
// reporting session end back to the control plane. The relay trusts nothing
// but the signed relay token: no token, no connection.
package relay

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halcyon-sec/pamgate/internal/relaytoken"
)

// SecretGetter fetches a credential from the secret store by path.
type SecretGetter interface {
	Get(path string) (map[string]string, error)
}

// Config holds relay configuration.
type Config struct {
	TokenSecret   string
	DataDir       string
	RecordingsDir string
	ControlURL    string
	APIKey        string
}

// Server handles relay websocket connections. Each connection is fully
// independent: no state is shared between concurrent sessions.
type Server struct {
	cfg      Config
	vault    SecretGetter
	upgrader websocket.Upgrader
	notify   *http.Client
	now      func() time.Time
}

// NewServer creates a relay Server.
func NewServer(cfg Config, vault SecretGetter) *Server {
	return NewServerWithClock(cfg, vault, func() time.Time { return time.Now().UTC() })
}

// NewServerWithClock creates a relay Server with a custom clock (for testing).
func NewServerWithClock(cfg Config, vault SecretGetter, now func() time.Time) *Server {
	if vault == nil {
		panic("relay: nil secret getter")
	}
	if now == nil {
		panic("relay: nil clock")
	}
	return &Server{
		cfg:   cfg,
		vault: vault,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token is the trust boundary, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		notify: &http.Client{Timeout: 5 * time.Second},
		now:    now,
	}
}

// Handler returns the HTTP handler serving the relay endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// handleWS walks one connection through its lifecycle: authenticate the
// token, fetch the secret, connect the target, then stream. Any failure
// before streaming closes the client channel with a distinct signal and has
// no further side effects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	token := r.URL.Query().Get("token")
	if token == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "token required")
		return
	}
	claims, err := relaytoken.VerifyAt(s.cfg.TokenSecret, token, s.now)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		return
	}

	secret, err := s.vault.Get(claims.VaultPath)
	if err != nil {
		log.Printf("relay session %d: secret fetch failed: %v", claims.SessionID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "secret unavailable")
		return
	}
	username, password := secret["username"], secret["password"]
	if username == "" || password == "" {
		log.Printf("relay session %d: secret missing username or password", claims.SessionID)
		closeWith(conn, websocket.CloseInternalServerErr, "secret unavailable")
		return
	}

	tgt, err := connectTarget(claims.AssetHost, claims.AssetPort, username, password)
	if err != nil {
		log.Printf("relay session %d: target connect failed: %v", claims.SessionID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "target unavailable")
		return
	}

	rec, err := newRecorder(s.cfg.DataDir, s.cfg.RecordingsDir, claims)
	if err != nil {
		log.Printf("relay session %d: recorder setup failed: %v", claims.SessionID, err)
		tgt.close()
		closeWith(conn, websocket.CloseInternalServerErr, "recording unavailable")
		return
	}

	log.Printf("relay session %d: streaming to %s:%d", claims.SessionID, claims.AssetHost, claims.AssetPort)
	s.stream(conn, tgt, rec)
	rec.Close()

	s.notifyEnd(claims.SessionID)
	log.Printf("relay session %d: closed", claims.SessionID)
}

// notifyEnd reports session end to the control plane, authenticated by the
// shared machine credential. Best effort: a failed notification never blocks
// or fails the relay's own teardown.
func (s *Server) notifyEnd(sessionID int64) {
	url := fmt.Sprintf("%s/sessions/%d/end", s.cfg.ControlURL, sessionID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		log.Printf("relay session %d: end notification failed: %v", sessionID, err)
		return
	}
	req.Header.Set("X-Relay-Api-Key", s.cfg.APIKey)
	resp, err := s.notify.Do(req)
	if err != nil {
		log.Printf("relay session %d: end notification failed: %v", sessionID, err)
		return
	}
	resp.Body.Close()
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(2 * time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
