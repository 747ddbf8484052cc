// Command waypointd is the proxy process entrypoint: load config,
// stand up storage and the plugin set, then run the TPROXY acceptor
// and the admin surface side by side until a signal asks it to stop.
// It intentionally skips the teacher's full kratos app-runner and
// upstream-selector abstractions - a transparent proxy has no upstream
// to load-balance across, it just dials whatever address TPROXY handed
// it (see DESIGN.md for the full rationale).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"

	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/contrib/config"
	"github.com/omalloc/waypoint/contrib/log"
	"github.com/omalloc/waypoint/plugin"
	_ "github.com/omalloc/waypoint/plugin/purge"
	"github.com/omalloc/waypoint/server"
	"github.com/omalloc/waypoint/server/admin"
	"github.com/omalloc/waypoint/storage"
)

var (
	flagConf    string
	flagVerbose bool

	// Version is set at build time via -ldflags.
	Version = "no-set"
)

func init() {
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")
}

func main() {
	flag.Parse()

	c := config.New[conf.Bootstrap](config.WithSource(config.NewFileSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		panic(err)
	}

	log.Init(bc.Logger)
	defer log.Sync()

	if flagVerbose {
		log.NewFilter(log.GetLogger(), log.FilterLevel(log.LevelDebug))
	}

	if err := run(bc); err != nil {
		log.Errorf("waypointd: %v", err)
		os.Exit(1)
	}
}

func run(bc *conf.Bootstrap) error {
	stopTimeout := 120 * time.Second

	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: stopTimeout,
	})
	if err != nil {
		return err
	}
	defer flip.Stop()

	if !flip.HasParent() && strings.HasSuffix(bc.Listener.Addr, ".sock") {
		_ = os.Remove(bc.Listener.Addr)
	}

	st, err := storage.New(bc.Storage, log.GetLogger())
	if err != nil {
		return err
	}
	storage.SetDefault(st)
	defer st.Close()

	dist := storage.NewDistributor(st)

	plugins, err := plugin.Load(bc.Plugin)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(flip, bc, dist)
	if err != nil {
		return err
	}

	adminSrv := admin.New(bc.Admin, srv, plugins)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, p := range plugins {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(ctx) }()
	go func() { errCh <- adminSrv.Start(ctx) }()

	if err := flip.Ready(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil {
			log.Errorf("server exited: %v", err)
		}
	case <-flip.Exit():
		log.Infof("upgrade requested, draining")
	case s := <-sig:
		log.Infof("received signal %s, shutting down", s)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer shutdownCancel()

	cancel()
	_ = adminSrv.Stop(shutdownCtx)
	_ = srv.Stop(shutdownCtx)

	for _, p := range plugins {
		_ = p.Stop(shutdownCtx)
	}

	return nil
}
