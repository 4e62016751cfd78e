// Package httpapi exposes a read-only REST admin/status surface over
// the live server state: session listing, channel listing, news, and
// a health check, generalized from the teacher's Echo-based
// state/blob API into a view over *session.Registry, *channel.Manager
// and the news store instead of its core.ChannelState/blob.Store.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"log/slog"

	"nexus/server/internal/channel"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
)

// NewsStore is the subset of store.Store this package reads; a
// read-only admin surface has no business writing news.
type NewsStore interface {
	ListNews() ([]protocol.NewsItem, error)
}

// Server is the Echo application backing the admin API.
type Server struct {
	echo     *echo.Echo
	sessions *session.Registry
	channels *channel.Manager
	news     NewsStore
}

// New constructs an Echo app with the admin/status routes registered.
func New(sessions *session.Registry, channels *channel.Manager, news NewsStore) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, sessions: sessions, channels: channels, news: news}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			// Skip noisy endpoints at debug level.
			if path == "/health" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/sessions", s.handleSessions)
	s.echo.GET("/api/channels", s.handleChannels)
	s.echo.GET("/api/news", s.handleNews)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Count(),
	})
}

type sessionEntry struct {
	SessionID uint32 `json:"session_id"`
	Nickname  string `json:"nickname"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	LoginAt   int64  `json:"login_at"`
}

type sessionsResponse struct {
	Sessions []sessionEntry `json:"sessions"`
}

func (s *Server) handleSessions(c echo.Context) error {
	entries := make([]sessionEntry, 0, s.sessions.Count())
	s.sessions.ForEach(func(sess *session.Session) {
		entries = append(entries, sessionEntry{
			SessionID: sess.ID,
			Nickname:  sess.Nickname,
			Username:  sess.Account.Username,
			IsAdmin:   sess.Account.IsAdmin,
			LoginAt:   sess.LoginAt,
		})
	})
	return c.JSON(http.StatusOK, sessionsResponse{Sessions: entries})
}

type channelsResponse struct {
	Channels []channel.Summary `json:"channels"`
}

func (s *Server) handleChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, channelsResponse{Channels: s.channels.List()})
}

type newsResponse struct {
	Items []protocol.NewsItem `json:"items"`
}

func (s *Server) handleNews(c echo.Context) error {
	items, err := s.news.ListNews()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if limit, err := strconv.Atoi(limitParam); err == nil && limit >= 0 && limit < len(items) {
			items = items[:limit]
		}
	}
	return c.JSON(http.StatusOK, newsResponse{Items: items})
}
