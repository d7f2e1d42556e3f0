package sampler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loykin/emoconnect/internal/emotion"
)

// WindowResponse is the body of GET /emotion and of every /stream message.
type WindowResponse struct {
	WindowSize int              `json:"window_size"`
	Data       []emotion.Sample `json:"data"`
}

type api struct {
	s        *Sampler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler exposes the sampler over echo.
func NewHandler(s *Sampler) *echo.Echo {
	a := &api{
		s:      s,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/emotion", a.window)
	e.GET("/window", a.samples)
	e.GET("/emotion_json", a.latest)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/stream", a.stream)
	return e
}

func (a *api) window(c echo.Context) error {
	data := a.s.Window()
	return c.JSON(http.StatusOK, WindowResponse{WindowSize: len(data), Data: data})
}

func (a *api) samples(c echo.Context) error {
	return c.JSON(http.StatusOK, a.s.Window())
}

func (a *api) latest(c echo.Context) error {
	return c.JSON(http.StatusOK, a.s.Latest())
}

// stream pushes the current window on connect and then after every append.
func (a *api) stream(c echo.Context) error {
	conn, err := a.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered
		return nil
	}
	defer func() { _ = conn.Close() }()

	updates, cancel := a.s.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(data []emotion.Sample) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(WindowResponse{WindowSize: len(data), Data: data})
	}
	if err := send(a.s.Window()); err != nil {
		return nil
	}
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return nil
		case snap := <-updates:
			if err := send(snap); err != nil {
				a.logger.Debug("stream client dropped", "error", err)
				return nil
			}
		}
	}
}

// Serve runs the HTTP API on listen until ctx is done.
func Serve(ctx context.Context, listen string, s *Sampler) error {
	e := NewHandler(s)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(listen) }()
	s.logger.Info("sampler api listening", "listen", listen)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
