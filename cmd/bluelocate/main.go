package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/vitaminmoo/bluelocate/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var c cli.CLI
	kctx := kong.Parse(&c,
		kong.Name("bluelocate"),
		kong.Description("Firmware upload and configuration tool for EPSUMLABS BLE trackers"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run(&c)
	stop()
	kctx.FatalIfErrorf(err)
}
