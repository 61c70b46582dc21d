package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-feed-refresh/core"
)

const (
	defaultMaxPayloadBytes int64 = 1 << 20
	defaultShutdownTimeout       = 5 * time.Second
	defaultReadHeaderTimeout     = 10 * time.Second
)

// Server holds the configuration shared by every callback session. Sessions
// are opened one at a time against the same fixed address.
type Server struct {
	Addr           string
	PagePath       string
	SavePath       string
	Store          core.CallbackPersister
	Fetcher        core.AccountsFetcher
	Observer       core.Observer
	SessionTimeout time.Duration
	// MaxPayloadBytes caps the enrollment POST body.
	MaxPayloadBytes int64
	ShutdownTimeout time.Duration
	// OnListen, when set, is called with the bound address right after the
	// listener is up.
	OnListen func(addr string)
}

func NewServer(cfg core.CallbackConfig, store core.CallbackPersister, fetcher core.AccountsFetcher, observer core.Observer) *Server {
	return &Server{
		Addr:            cfg.Addr,
		PagePath:        cfg.PagePath,
		SavePath:        cfg.SavePath,
		Store:           store,
		Fetcher:         fetcher,
		Observer:        observer,
		SessionTimeout:  cfg.SessionTimeout,
		MaxPayloadBytes: defaultMaxPayloadBytes,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// RunSession serves page until one enrollment POST for recordPath has been
// handled, then releases the listener. It blocks for the whole session.
func (s *Server) RunSession(ctx context.Context, page string, recordPath string) (core.SessionResult, error) {
	startedAt := time.Now()
	fields := map[string]any{"record_path": recordPath}

	session, err := s.Open(ctx, page, recordPath)
	if err != nil {
		s.Observer.ObserveOperation(ctx, startedAt, "callback_session", err, fields)
		return core.SessionResult{}, err
	}
	result, err := session.Wait()
	fields["persisted"] = result.Persisted
	fields["accounts_fetched"] = result.AccountsFetched
	s.Observer.ObserveOperation(ctx, startedAt, "callback_session", err, fields)
	return result, err
}

// Open binds the listener and starts serving. The caller must Wait on the
// returned session.
func (s *Server) Open(ctx context.Context, page string, recordPath string) (*Session, error) {
	if s == nil {
		return nil, inboundInternal("inbound: server is nil", nil)
	}
	if s.Store == nil || s.Fetcher == nil {
		return nil, inboundInternal("inbound: server requires a store and an accounts fetcher", nil)
	}
	if strings.TrimSpace(recordPath) == "" {
		return nil, inboundBadInput("inbound: record path is required", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	addr := strings.TrimSpace(s.Addr)
	if addr == "" {
		addr = core.DefaultCallbackAddr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, inboundWrapError(
			err,
			goerrors.CategoryInternal,
			"inbound: bind callback listener",
			http.StatusInternalServerError,
			core.ErrorInternal,
			map[string]any{"addr": addr},
		)
	}

	session := &Session{
		ctx:        ctx,
		page:       []byte(page),
		pagePath:   defaultString(s.PagePath, core.DefaultPagePath),
		savePath:   defaultString(s.SavePath, core.DefaultSavePath),
		recordPath: recordPath,
		store:      s.Store,
		fetcher:    s.Fetcher,
		observer:   s.Observer,
		maxPayload: s.MaxPayloadBytes,
		listener:   listener,
		done:       make(chan struct{}),
		released:   make(chan struct{}),
	}
	if session.maxPayload <= 0 {
		session.maxPayload = defaultMaxPayloadBytes
	}
	session.httpServer = &http.Server{
		Handler:           session,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- session.httpServer.Serve(listener)
	}()
	shutdownTimeout := s.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	go session.supervise(s.SessionTimeout, shutdownTimeout, serveDone)

	s.Observer.Info(ctx, "callback session listening", map[string]any{
		"url":         session.URL(session.pagePath),
		"record_path": recordPath,
	})
	if s.OnListen != nil {
		s.OnListen(session.Addr())
	}
	return session, nil
}

// Session is one single-use callback listener.
type Session struct {
	ctx        context.Context
	page       []byte
	pagePath   string
	savePath   string
	recordPath string
	store      core.CallbackPersister
	fetcher    core.AccountsFetcher
	observer   core.Observer
	maxPayload int64

	listener   net.Listener
	httpServer *http.Server

	mu       sync.Mutex
	claimed  bool
	finished bool
	result   core.SessionResult
	err      error

	done     chan struct{}
	released chan struct{}
}

func (s *Session) Addr() string {
	return s.listener.Addr().String()
}

// URL returns a browsable URL for path on this session's listener.
func (s *Session) URL(path string) string {
	host, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "http://" + s.Addr() + path
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

// Done is closed once the enrollment POST has been handled or the session
// was abandoned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the listener is released and returns the session outcome.
func (s *Session) Wait() (core.SessionResult, error) {
	<-s.released
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (s *Session) supervise(timeout time.Duration, shutdownTimeout time.Duration, serveDone <-chan error) {
	defer close(s.released)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-s.done:
	case <-s.ctx.Done():
		s.abandon(inboundWrapError(
			s.ctx.Err(),
			goerrors.CategoryOperation,
			"inbound: callback session cancelled",
			http.StatusServiceUnavailable,
			core.ErrorCallbackProtocol,
			map[string]any{"record_path": s.recordPath},
		))
	case <-expired:
		s.abandon(inboundError(
			fmt.Sprintf("inbound: no enrollment received within %s", timeout),
			goerrors.CategoryOperation,
			http.StatusGatewayTimeout,
			core.ErrorCallbackProtocol,
			map[string]any{"record_path": s.recordPath},
		))
	case err := <-serveDone:
		s.abandon(inboundWrapError(
			err,
			goerrors.CategoryInternal,
			"inbound: callback listener stopped unexpectedly",
			http.StatusInternalServerError,
			core.ErrorInternal,
			map[string]any{"record_path": s.recordPath},
		))
		s.awaitHandler()
		s.finalize()
		return
	}
	s.awaitHandler()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	if err := <-serveDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.observer.Warn(s.ctx, "callback listener returned an error", map[string]any{
			"record_path": s.recordPath,
			"error":       err.Error(),
		})
	}
	s.finalize()
}

func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == s.pagePath:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(s.page)
		}
	case r.Method == http.MethodPost && r.URL.Path == s.savePath:
		s.handleEnrollment(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Session) handleEnrollment(w http.ResponseWriter, r *http.Request) {
	if !s.claim() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"status":  "error",
			"message": "enrollment already received",
		})
		return
	}

	result, err := s.persistEnrollment(r)
	s.complete(result, err)

	if err != nil {
		s.observer.Error(s.ctx, "callback enrollment failed", map[string]any{
			"record_path": s.recordPath,
			"persisted":   result.Persisted,
			"error":       err.Error(),
		})
		writeJSON(w, statusFor(err), map[string]any{
			"status":  "error",
			"message": errorMessage(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   result.Accounts,
	})
}

func (s *Session) persistEnrollment(r *http.Request) (core.SessionResult, error) {
	var result core.SessionResult

	payload, err := io.ReadAll(io.LimitReader(r.Body, s.maxPayload+1))
	if err != nil {
		return result, core.CallbackProtocolError(err, "callback: read request body")
	}
	if int64(len(payload)) > s.maxPayload {
		return result, core.CallbackProtocolError(nil, fmt.Sprintf("callback: payload exceeds %d bytes", s.maxPayload))
	}

	record, err := s.store.SavePayload(s.recordPath, payload)
	if err != nil {
		return result, err
	}
	result.Persisted = true
	s.observer.Info(s.ctx, "enrollment saved", map[string]any{
		"record_path":   s.recordPath,
		"enrollment_id": record.EnrollmentID(),
		"token":         core.RedactToken(record.AccessToken),
	})

	accounts, err := s.fetcher.FetchAccounts(s.ctx, record.AccessToken)
	if err != nil {
		return result, err
	}
	result.AccountsFetched = true
	result.Accounts = accounts

	record.Accounts = accounts
	if err := s.store.Save(s.recordPath, record); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Session) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed || s.finished {
		return false
	}
	s.claimed = true
	return true
}

func (s *Session) complete(result core.SessionResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.result = result
	s.err = err
	s.finished = true
	close(s.done)
}

// abandon ends a session nobody posted to. A POST already being handled keeps
// its own outcome.
func (s *Session) abandon(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.claimed {
		return
	}
	s.err = err
	s.finished = true
	close(s.done)
}

// awaitHandler blocks while a claimed POST is still being handled, so the
// session never ends with a record write in flight. Cancelling the session
// context aborts the accounts fetch inside that handler.
func (s *Session) awaitHandler() {
	s.mu.Lock()
	inFlight := s.claimed && !s.finished
	s.mu.Unlock()
	if inFlight {
		<-s.done
	}
}

// finalize settles a session whose claimed POST did not finish before the
// listener was forced closed.
func (s *Session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.err = inboundInternal("inbound: callback session closed before the enrollment was handled", map[string]any{
		"record_path": s.recordPath,
	})
	s.finished = true
	close(s.done)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorMessage(err error) string {
	if core.IsErrorCode(err, core.ErrorNetworkFailure) {
		return "Failed to fetch accounts data"
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.Message) != "" {
		return rich.Message
	}
	return err.Error()
}

func defaultString(value string, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}

var _ core.SessionRunner = (*Server)(nil)
