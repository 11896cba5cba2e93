package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	flag "github.com/spf13/pflag"

	"github.com/c4g7-dev/netwatch/internal/app"
)

var version = "dev"

func main() {
	var (
		cfgPath     string
		showVersion bool
	)
	flag.StringVarP(&cfgPath, "config", "c", "./netwatch.yaml", "path to config file (yaml or json)")
	flag.BoolVarP(&showVersion, "version", "V", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("netwatch", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)

	<-ctx.Done()
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
