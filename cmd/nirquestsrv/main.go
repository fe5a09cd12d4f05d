package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf/providers/file"
	"github.com/nasa-jpl/nirquest/oceanoptics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "nirquestsrv.yml"
)

func root() {
	str := `nirquestsrv exposes an Ocean Optics NIRQuest (or USB2000+/USB4000) spectrometer over HTTP
Spectra are averaged, dark subtracted, boxcar smoothed and optionally
converted to reflectance against a stored reference before they are served.
Baseline removal, Savitzky-Golay smoothing and min-max normalization may
follow.

Usage:
	nirquestsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `nirquestsrv is amenable to configuration via its .yml file, nirquestsrv.yml in the
working directory.  Use mkconf to write one with the defaults.  Any value may be
overridden by an environment variable, e.g.

	NIRQUEST_ADDR=:9000
	NIRQUEST_ACQUISITION_SCANS=10
	NIRQUEST_MOCK=true

Changes to the Acquisition section and Recorder.Enabled in the file are applied
while the server runs.

Routes, under /<Endpoint>:
	GET    /spectrum              acquire; ?scans=, ?boxcar=, ?savgol=, ?baseline=,
	                              ?normalize=, ?fmt=json|csv|fits
	GET    /latest                last spectrum, including continuous mode
	POST   /dark, /reference      capture and store; ?scans=
	DELETE /dark, /reference      forget
	GET/POST /dark-correction, /reference-correction   {"bool": ...}
	GET/POST /boxcar, /scans      {"int": ...}
	GET/POST /savgol-window, /savgol-order, /baseline-degree   {"int": ...}, 0 is off
	GET/POST /normalize           {"bool": ...}
	GET/POST /integration-time    {"f64": milliseconds}
	GET/POST /continuous          {"bool": ...}
	GET/POST /autowrite/{root,prefix,format,enabled}
	GET/POST /lock
	GET    /model

Routes that use the spectrometer return 423 while another acquisition is underway.
GET /endpoints lists every route.`
	fmt.Println(str)
}

func mkconf() {
	k, err := LoadConfig(ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	c, err := Unmarshal(k)
	if err != nil {
		log.Fatal().Err(err).Msg("decoding config")
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("creating config file")
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal().Err(err).Msg("writing config file")
	}
}

func printconf() {
	k, err := LoadConfig(ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	c, _ := Unmarshal(k)
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal().Err(err).Msg("printing config")
	}
}

func pversion() {
	fmt.Printf("nirquestsrv version %v\n", Version)
}

// watch reloads the config file when it changes and applies it to s
func watch(s *Server, logger zerolog.Logger) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			logger.Error().Err(err).Msg("watching config file")
			return
		}
		k, err := LoadConfig(ConfigFileName)
		if err != nil {
			logger.Error().Err(err).Msg("reloading config")
			return
		}
		c, err := Unmarshal(k)
		if err == nil {
			err = s.Reconfigure(c)
		}
		if err != nil {
			logger.Error().Err(err).Msg("applying reloaded config")
			return
		}
		logger.Info().Str("file", ConfigFileName).Msg("config reloaded")
	})
	if err != nil {
		logger.Debug().Err(err).Msg("config file not watched")
	}
}

func run() {
	k, err := LoadConfig(ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	c, err := Unmarshal(k)
	if err != nil {
		log.Fatal().Err(err).Msg("decoding config")
	}
	logger := NewLogger(c.LogLevel)

	t, closeBus, err := Transport(c)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening USB")
	}
	defer closeBus()
	dev, err := Open(t, c)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening spectrometer")
	}
	defer oceanoptics.Release(dev.Profile)
	logger.Info().Str("model", dev.Model().Name).Uint16("pid", dev.Profile.ProductID()).Bool("mock", c.Mock).Msg("spectrometer bound")

	s := NewServer(dev, c, logger)
	watch(s, logger)
	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(c, s)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info().Str("addr", c.Addr).Str("endpoint", c.Endpoint).Msg("now listening for requests")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server stopped")
	}
	s.Runner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
}
