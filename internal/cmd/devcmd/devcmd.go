// Package devcmd implements the "ionify dev" subcommand: it wires the
// Resolver, CAS, Graph Store, Watcher, Transform Engine, and HMR
// Coordinator into a Dev Dispatcher and serves it over HTTP, following the
// same Args-struct-plus-Run(args)-error shape and signal-driven graceful
// shutdown as esmdev's esmdev.Run (esmdev/server.go).
package devcmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/dev"
	"github.com/ionifyjs/ionify/internal/esbuildloader"
	"github.com/ionifyjs/ionify/internal/graph"
	"github.com/ionifyjs/ionify/internal/hmr"
	"github.com/ionifyjs/ionify/internal/loader"
	"github.com/ionifyjs/ionify/internal/logging"
	"github.com/ionifyjs/ionify/internal/resolver"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/version"
	"github.com/ionifyjs/ionify/internal/watcher"
)

// Args holds the arguments for the dev subcommand.
type Args struct {
	Root    string
	Port    int
	CASDir  string
	GraphDir string
	Refresh bool
}

// Run starts the dev server and blocks until SIGINT/SIGTERM.
func Run(args Args) error {
	root := args.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("devcmd: resolve root: %w", err)
	}

	port := args.Port
	if port == 0 {
		port = 3000
	}

	cfg := version.FromEnv([]string{absRoot})
	v, err := version.Compute(cfg)
	if err != nil {
		return fmt.Errorf("devcmd: compute version hash: %w", err)
	}
	if err := version.PublishConfigHash(v); err != nil {
		return fmt.Errorf("devcmd: publish config hash: %w", err)
	}

	store := cas.New(args.CASDir)
	g, err := graph.Open(args.GraphDir, v)
	if err != nil {
		return fmt.Errorf("devcmd: open graph store: %w", err)
	}
	defer g.Close()

	loaderOpts := esbuildloader.Options{Refresh: args.Refresh, Sourcemaps: version.SourcemapsEnabled()}
	reg := loader.NewRegistry()
	reg.Register(esbuildloader.JS(loaderOpts))
	reg.Register(esbuildloader.CSS(loaderOpts))
	reg.Register(esbuildloader.CSSPlain(loaderOpts))
	reg.Register(esbuildloader.CSSModule(loaderOpts))

	cacheMax := version.DevTransformCacheMax(1024)
	engine, err := transform.New(reg, store, v, cacheMax)
	if err != nil {
		return fmt.Errorf("devcmd: new transform engine: %w", err)
	}

	w, err := watcher.New()
	if err != nil {
		return fmt.Errorf("devcmd: new watcher: %w", err)
	}
	if err := w.Watch(absRoot); err != nil {
		return fmt.Errorf("devcmd: watch %s: %w", absRoot, err)
	}

	coordinator := hmr.New()
	r := resolver.New(resolver.Options{})

	dispatcher := dev.New(absRoot, r, engine, g, coordinator, w)

	go func() {
		for ev := range w.Events() {
			dispatcher.HandleChange(context.Background(), ev)
		}
	}()

	listener, actualPort, err := listenOnAvailablePort(port)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Handler: dispatcher}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.L().Sugar().Errorf("devcmd: http server error: %v", err)
			os.Exit(1)
		}
	}()

	logging.L().Sugar().Infof("dev server listening on http://localhost:%d/", actualPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.L().Info("shutting down")
	httpServer.Close()
	return dispatcher.Shutdown(context.Background())
}

func listenOnAvailablePort(start int) (net.Listener, int, error) {
	port := start
	for {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, port, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("devcmd: listen on port %d: %w", port, err)
		}
		port++
		if port > start+100 {
			return nil, 0, fmt.Errorf("devcmd: no available port found (tried %d-%d)", start, port-1)
		}
	}
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return false
}
