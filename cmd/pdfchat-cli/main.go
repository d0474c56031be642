// Command pdfchat-cli chats with a PDF from the terminal.
//
//	pdfchat-cli [-config config.yaml] [-session name] [file.pdf]
package main

import (
	"context"
	"flag"
	"os"

	"github.com/fatih/color"

	"pdfchat/config"
	"pdfchat/internal/app"
	"pdfchat/logger"
	"pdfchat/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	session := flag.String("session", "cli", "session id; its history is kept between runs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("config: %v", err)
		os.Exit(1)
	}

	// the terminal is for the conversation, logs go to the file only
	var zl logger.Logger = logger.NewNop()
	if cfg.Log.File != "" {
		zl = logger.NewFileOnly(cfg.Log.File)
	}
	defer zl.Sync()

	ctx := context.Background()
	shutdownTracer := telemetry.InitTracer(cfg.Telemetry, zl)
	defer shutdownTracer(ctx)

	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		color.Red("startup: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	r := newREPL(a.NewEngine(ctx, *session), os.Stdin, os.Stdout)
	if path := flag.Arg(0); path != "" {
		r.load(ctx, path)
	}
	if err := r.run(ctx); err != nil {
		color.Red("input: %v", err)
		os.Exit(1)
	}
}
