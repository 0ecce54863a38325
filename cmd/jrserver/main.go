// Command jrserver loads {port, log_path, max_task_num, max_pool_size,
// mode, work_dir}, wires internal/reactor.Reactor to either internal/rpc
// (sentinel-framed JSON-RPC) or internal/httpsrv (HTTP/1.0 + CGI), and
// runs until SIGINT/SIGTERM. Init and flag errors are fatal (exit 1),
// and a graceful SIGINT/SIGTERM stop also exits 1.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/B777B2056/jrNetWork/internal/config"
	"github.com/B777B2056/jrNetWork/internal/httpsrv"
	"github.com/B777B2056/jrNetWork/internal/logging"
	"github.com/B777B2056/jrNetWork/internal/procedures"
	"github.com/B777B2056/jrNetWork/internal/reactor"
	"github.com/B777B2056/jrNetWork/internal/rpc"
)

func main() {
	os.Exit(run())
}

// run holds the server's entire lifecycle so every deferred cleanup
// (log files, reactor resources) executes before main reports an exit
// code -- os.Exit itself does not run deferred calls.
func run() int {
	fs := config.ServerFlagSet()
	fs.String("config", "", "path to a YAML config file layered above defaults and under CLI flags")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	configPath, _ := fs.GetString("config")

	cfg, err := config.LoadServer(configPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logger, files, err := logging.New(cfg.LogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		return 1
	}
	defer files.Close()
	log := logger.WithField("component", "jrserver")

	reg := rpc.NewRegistry()
	procedures.Register(reg)

	r, err := reactor.New(reactor.Config{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		MaxTaskNum:   cfg.MaxTaskNum,
		MaxPoolSize:  cfg.MaxPoolSize,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
		TickInterval: time.Second,
		UsePoll:      cfg.UsePoll,
		Logger:       log,
	})
	if err != nil {
		log.WithError(err).Error("reactor init failed")
		return 1
	}
	defer r.Close()

	switch cfg.Mode {
	case "http":
		r.OnRead(httpsrv.NewHandler(cfg.WorkDir, reg, log))
	default:
		r.OnRead(rpc.NewReadHandler(reg, log))
	}
	r.OnTimeout(func(conn *reactor.Connection) {
		log.WithField("fd", conn.FD).Info("idle connection timed out")
	})

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"mode": cfg.Mode,
	}).Info("jrserver listening")

	if err := r.Run(); err != nil {
		log.WithError(err).Error("reactor loop exited with error")
		return 1
	}
	if r.ShutdownRequested() {
		log.Info("graceful shutdown complete")
		return 1
	}
	return 0
}
