package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	playcmd "github.com/louisbranch/hederapoly/internal/cmd/play"
	entrypoint "github.com/louisbranch/hederapoly/internal/platform/cmd"
	"github.com/louisbranch/hederapoly/internal/platform/config"
)

func main() {
	cfg, err := playcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("%v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServicePlay))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := playcmd.Run(ctx, cfg); err != nil {
		config.Exitf("play: %v", err)
	}
}
