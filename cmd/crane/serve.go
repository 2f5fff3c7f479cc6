package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchktools/crane/app"
	"github.com/searchktools/crane/config"
	"github.com/searchktools/crane/core"
	"github.com/searchktools/crane/core/http"
	"github.com/searchktools/crane/core/logger"
	"github.com/searchktools/crane/core/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo server",
	Long: `Starts crane with a few demo routes:

  /        Hello, World!
  /echo    the decoded query, one key per line
  /stats   worker pool statistics as JSON
  /metrics Prometheus metrics (unless METRICS_ENABLED=false)

Settings come from the environment (SERVER_ADDR, SERVER_WORKERS, ...), an
optional .env file in --config-dir, and the flags below.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("config-dir")
		if err != nil {
			return err
		}

		cfg, err := config.Load(dir, cmd.Flags())
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log, err := logger.New(&cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer log.Sync()

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}

		registerDemoRoutes(a.Engine(), log)

		log.Info("starting crane", zap.String("addr", a.Engine().Addr().String()), zap.String("version", version))
		return a.Run()
	},
}

func registerDemoRoutes(e *core.Engine, log *zap.Logger) {
	wrap := func(h http.Handler) http.Handler {
		return middleware.Chain(h, middleware.Logger(log), middleware.Recover(log))
	}

	e.Route("/", wrap(http.HandlerFunc(func(string, http.Query) http.Response {
		return plain(http.StatusOK, "Hello, World!")
	}))).Route("/echo", wrap(http.QueryHandlerFunc(func(q http.Query) http.Response {
		var b strings.Builder
		for _, k := range q.Keys() {
			fmt.Fprintf(&b, "%s=%q\n", k, q.Values(k))
		}
		return plain(http.StatusOK, b.String())
	}))).Route("/stats", e.StatsHandler()).Default(wrap(http.HandlerFunc(func(path string, _ http.Query) http.Response {
		return plain(http.StatusNotFound, "no route for "+path)
	})))
}

func plain(status int, body string) http.Response {
	return http.NewResponse().
		Status(status).
		Header(core.HeaderContentType, "text/plain; charset=utf-8").
		Header(core.HeaderContentLength, strconv.Itoa(len(body))).
		Body(body).
		Build()
}

func init() {
	serveCmd.Flags().String("config-dir", ".", "directory holding an optional .env file")
	config.RegisterFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}
