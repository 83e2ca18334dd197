package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/finly/smsync/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (overrides default)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
