package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yuxki/revdump/pkg/config"
)

func setupLogger(cfg config.RevDumpConfig) {
	// set time field format
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// set global log level
	zerolog.SetGlobalLevel(cfg.ZerologLevel)

	// diagnostics go to stdout, next to the download progress
	w := os.Stdout
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(cfg.ZerologLevel)
	if cfg.ZerologFormat == config.PrettyFormat {
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: w})
	}
}
