package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/tgfast"
)

const maxUpdateBytes = 1 << 20

// Server receives Bot API webhook calls. Updates are handled in the background and the
// request is always answered 200 so Telegram never redelivers.
type Server struct {
	r      *chi.Mux
	handle tgfast.UpdateHandler
	logger *zap.Logger

	// base outlives requests; handlers keep running after the 200 is written.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(path string, handle tgfast.UpdateHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{r: chi.NewRouter(), handle: handle, logger: logger, base: base, cancel: cancel}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)
	s.r.Use(s.accessLog)

	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	s.r.Post(path, s.handleUpdate)
	return s
}

// Router exposes the router for tests and for mounting.
func (s *Server) Router() chi.Router { return s.r }

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		s.logger.Warn("webhook_read_failed", zap.Error(err))
		return
	}
	var u tgfast.Update
	if err := json.Unmarshal(body, &u); err != nil {
		s.logger.Warn("webhook_bad_update", zap.Error(err), zap.Int("bytes", len(body)))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handle(s.base, u)
	}()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then drains in-flight updates.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("webhook_listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait(shutdownCtx)
	s.cancel()
	return err
}

// Wait blocks until background handlers finish or ctx expires.
func (s *Server) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("webhook_drain_timeout")
	}
}
