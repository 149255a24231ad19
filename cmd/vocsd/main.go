// Command vocsd is the session/participation controller server (spec.md
// §4.1-§4.4, §6): it terminates client WebSocket connections, dispatches
// protocol messages into internal/controller, and proxies mixer/ICE
// lifecycle calls to the external Backend and Frontend processes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openvocs/vocsd/internal/auth"
	"github.com/openvocs/vocsd/internal/backend"
	"github.com/openvocs/vocsd/internal/broadcast"
	"github.com/openvocs/vocsd/internal/config"
	"github.com/openvocs/vocsd/internal/controller"
	"github.com/openvocs/vocsd/internal/correlator"
	"github.com/openvocs/vocsd/internal/directory"
	"github.com/openvocs/vocsd/internal/loop"
	"github.com/openvocs/vocsd/internal/protocol"
	"github.com/openvocs/vocsd/internal/sessions"
	"github.com/openvocs/vocsd/internal/sip"
	"github.com/openvocs/vocsd/internal/store"
	"github.com/openvocs/vocsd/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		slog.Error("parse flags", "err", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("vocsd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return errors.New("open store: " + err.Error())
	}
	defer st.Close()

	sess, err := sessions.Open(cfg.DBPath+".sessions.json", cfg.SessionLifetime)
	if err != nil {
		return errors.New("open sessions: " + err.Error())
	}

	credentials, err := auth.Open(cfg.DBPath + ".auth.json")
	if err != nil {
		return errors.New("open auth store: " + err.Error())
	}

	loops := loop.NewTable()
	bcast := broadcast.New()
	corr := correlator.New()

	var dir controller.Directory
	if cfg.LDAPEnabled {
		dir = directory.New(ldapBind(cfg.DirectoryURL))
	}

	var sipBridge controller.SIPBridge
	if cfg.SIPHost != "" {
		bridge, err := sip.Dial(sip.Config{
			Host:         cfg.SIPHost,
			Port:         cfg.SIPPort,
			Transport:    "udp",
			Username:     cfg.SIPUser,
			Password:     cfg.SIPPassword,
			LocalDomain:  cfg.LocalDomain,
			RegisterTTL:  time.Hour,
			RegisterEach: 30 * time.Minute,
		})
		if err != nil {
			return errors.New("dial sip bridge: " + err.Error())
		}
		defer bridge.Close()
		sipBridge = bridge
	}

	var mixerClient controller.MixerClient
	var frontendClient controller.FrontendClient
	backendClient, err := backend.Dial(cfg.BackendURL, cfg.ResponseTimeout, slog.Default().With("component", "backend"))
	if err != nil {
		slog.Warn("backend unreachable at startup, mixer/frontend events will fail until it is", "err", err)
	} else {
		defer backendClient.Close()
		mixerClient = backend.NewMixerProxy(backendClient)
		frontendClient = backend.NewFrontendProxy(backendClient, slog.Default().With("component", "frontend"))
	}

	ctrl := controller.New(loops, bcast, corr, sess, controller.Config{
		Credentials:    credentials,
		Directory:      dir,
		Roles:          credentials,
		Mixer:          mixerClient,
		Frontend:       frontendClient,
		SIP:            sipBridge,
		Recordings:     st,
		RequestTimeout: cfg.ResponseTimeout,
		UserDataPath:   cfg.DBPath + ".userdata.json",
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	ws.NewHandler(wsController{ctrl}).Register(e)
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(cfg.Addr); err == nil && host != "" {
		tlsHostname = host
	}
	tlsConfig, fingerprint, err := generateTLSConfig(24*time.Hour, tlsHostname)
	if err != nil {
		return errors.New("generate tls config: " + err.Error())
	}
	slog.Info("tls certificate generated", "fingerprint", fingerprint)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           e,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "err", err)
		}
	}()

	go evictExpiredSessions(ctx, sess)

	slog.Info("vocsd listening", "addr", cfg.Addr)
	if err := httpSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ldapBind is the pluggable point for a real LDAP client: spec.md's Non-goals
// name the LDAP directory only via the interface it exposes, so the default
// here always fails until an operator wires a concrete bind function for
// their directory server.
func ldapBind(directoryURL string) directory.BindFunc {
	return func(user, _ string) error {
		return errors.New("ldap bind not configured for " + directoryURL + " (user " + user + ")")
	}
}

func evictExpiredSessions(ctx context.Context, sess *sessions.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sess.EvictExpired(); err != nil {
				slog.Error("evict expired sessions", "err", err)
			} else if n > 0 {
				slog.Debug("evicted expired sessions", "count", n)
			}
		}
	}
}

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
			if path == "/ws" || path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", path, "status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request", "method", req.Method, "path", path, "status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(), "remote", c.RealIP())
			}
			return nil
		}
	}
}

// wsController narrows *controller.Controller to internal/ws's Controller
// interface. The two packages each declare their own Transport interface
// (identical method sets, distinct named types) to stay decoupled, so this
// adapter is the one place that crosses between them: a ws.Transport value
// is still assignable to the controller.Transport parameter Connect expects,
// since interface-to-interface assignment only checks method sets.
type wsController struct {
	ctrl *controller.Controller
}

func (w wsController) Connect(socket string, tr ws.Transport) {
	w.ctrl.Connect(socket, tr)
}

func (w wsController) Dispatch(socket string, msg protocol.Message) {
	w.ctrl.Dispatch(socket, msg)
}

func (w wsController) Drop(socket string) {
	w.ctrl.Drop(socket)
}
