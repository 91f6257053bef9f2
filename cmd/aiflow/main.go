// aiflow is the voice appliance daemon: it turns tag scans and button
// presses into conversations with the configured backend agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CollaboratorFuturity/futuresGarden/internal/config"
	"github.com/CollaboratorFuturity/futuresGarden/internal/log"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/button"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/orb"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/status"
	"github.com/CollaboratorFuturity/futuresGarden/pkg/tags"
)

func main() {
	envPath := flag.String("env", config.DefaultEnvFile, "configuration env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	stat := status.NewSerial(cfg.SerialPort, 0, log.Component("status"))
	// The display locks on the shutdown face no matter how we exit.
	defer func() {
		stat.Write(status.Shutdown)
		stat.Close()
	}()

	app, err := orb.New(*envPath, cfg, stat, log.L())
	if err != nil {
		logger.Error("startup failed", "error", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		return
	}
	defer app.Shutdown()

	tagEvents := make(chan tags.Event, 8)
	edges := make(chan button.Edge, 8)
	go readHardwareEvents(ctx, os.Stdin, tagEvents, edges)

	if err := app.Run(ctx, tagEvents, edges); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime failure", "error", err)
	}
}

// readHardwareEvents consumes the reader daemon's line protocol:
// "press"/"release" are button edges, anything else is a tag UID. The
// NFC and GPIO daemons pipe their debounced output into this process.
func readHardwareEvents(ctx context.Context, r *os.File, tagEvents chan<- tags.Event, edges chan<- button.Edge) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "press":
			sendEdge(ctx, edges, button.Edge{Pressed: true, At: time.Now()})
		case "release":
			sendEdge(ctx, edges, button.Edge{Pressed: false, At: time.Now()})
		default:
			select {
			case tagEvents <- tags.Event{TagID: line, At: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func sendEdge(ctx context.Context, edges chan<- button.Edge, e button.Edge) {
	select {
	case edges <- e:
	case <-ctx.Done():
	}
}
