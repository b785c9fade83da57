// Command studentsync runs a studentsync server or synchronizes a directory with one.
//
// Usage:
//
//	studentsync [-config FILE] [-debug] serve [-addr ADDR] [-rpc ADDR] [-metrics ADDR] [-no-broadcast]
//	studentsync [-config FILE] [-debug] sync [-dir DIR] [-addr ADDR] [-rpc ADDR] [-id ID] [-timeout DUR]
//	studentsync [-config FILE] [-debug] discover [-once]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bobg/studentsync/config"
	_ "github.com/bobg/studentsync/pool/logging"
	_ "github.com/bobg/studentsync/pool/mem"
)

type maincmd struct {
	conf   config.Config
	logger *zap.Logger
}

func main() {
	var (
		configFile = flag.String("config", config.DefaultFile, "path to config file")
		debug      = flag.Bool("debug", false, "log at debug level in development format")
	)
	flag.Parse()

	conf, err := config.Load(afero.NewOsFs(), *configFile)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(conf.LogLevel, *debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = subcmd.Run(ctx, maincmd{conf: conf, logger: logger}, flag.Args())
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"discover": c.discover,
		"serve":    c.serve,
		"sync":     c.sync,
	}
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
