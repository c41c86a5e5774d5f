// Command kiosk is the booth's offline-first order terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
)

const usage = `usage: kiosk [-config kiosk.yaml] <command> [flags]

commands:
  menu                                 list available items
  submit -name NAME -item ID:QTY ...   place an order, stored offline if the server is unreachable
  sync                                 replay stored orders now
  pending                              list stored orders
  track -id ORDER_ID                   follow an order and its queue position
  run                                  watch connectivity and replay on reconnect
  verify|ready|complete|cancel -id ORDER_ID -password PW [-role staff|admin]
`

func main() {
	configPath := flag.String("config", "kiosk.yaml", "path to the kiosk YAML config")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, log, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("failed to start kiosk")
	}
	defer app.close()

	if err := app.dispatch(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.WithError(err).Error(flag.Arg(0) + " failed")
		app.close()
		os.Exit(1)
	}
}
