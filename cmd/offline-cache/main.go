package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	versionFlag        string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Application origin URL (overrides config)")
	flag.StringVar(&versionFlag, "build", "", "Application build version (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := getConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read config")
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if versionFlag != "" {
		config.Version = versionFlag
	}
	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Clould not parse url")
	}

	// set up sqlite memory provider
	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}
	storage, err := cache.NewSQLiteStorage(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Str("db", dbFilename).Msg("Could not open cache DB")
	}
	defer storage.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	host := offlinecache.NewHost(offlinecache.HostConfig{Logger: &log.Logger})
	install := func(ctx context.Context) error {
		controller, err := offlinecache.NewController(offlinecache.Config{
			Storage:        storage,
			Name:           config.Name,
			Version:        config.Version,
			OriginURL:      *originURL,
			Manifest:       config.Manifest,
			Routes:         offlinecache.NewRoutingTable(config.Revalidate, config.Bypass),
			WaitForClients: config.WaitForClients,
			Logger:         &log.Logger,
			Registerer:     registry,
		})
		if err != nil {
			return err
		}
		return host.Register(ctx, controller)
	}

	// a failed install is not fatal, requests are passed through until an install succeeds
	if err := install(context.Background()); err != nil {
		log.Error().Err(err).Msg("Initial install failed, passing requests through")
	}

	log.Info().Msgf("Proxying port %v for %s", portFlag, originURL.String())
	err = http.ListenAndServe(fmt.Sprintf(":%d", portFlag), newServer(host, install, registry, log.Logger))

	if err != nil {
		panic(err)
	}
}
