// Command ofsniff passively observes an OpenFlow 1.0 control channel and
// reports EchoRTT, PktInRTT and LinkLat estimates derived from SAVI-SDN
// LLDP probes, per the correlator in package correlator.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/t-lin/ofsniff/capture"
	"github.com/t-lin/ofsniff/correlator"
	"github.com/t-lin/ofsniff/latency"
	"github.com/t-lin/ofsniff/statslog"
)

var (
	iface     = flag.String("iface", "", "Network interface to capture on (required)")
	ofpPort   = flag.Int("ofp-port", 6633, "OpenFlow controller TCP port to filter on")
	enableLog = flag.Bool("stats-log", false, "Write a persisted stats log file in the current directory")
	promPort  = flag.String("prom", ":9090", "Prometheus metrics export address and port")

	ctx, cancel = context.WithCancel(context.Background())
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	if *iface == "" {
		log.Print("ofsniff: -iface is required")
		os.Exit(1)
	}
	if *ofpPort < 0 || *ofpPort > 65535 {
		log.Printf("ofsniff: -ofp-port %d out of range [0, 65535]", *ofpPort)
		os.Exit(1)
	}
	if _, err := net.InterfaceByName(*iface); err != nil {
		log.Printf("ofsniff: interface lookup failed: %v", err)
		os.Exit(1)
	}

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	var statsWriter *statslog.Writer
	if *enableLog {
		w, err := statslog.Open("")
		if err != nil {
			// ResourceInit on the stats log is non-fatal; the correlator
			// simply runs without persisted logging.
			log.Printf("ofsniff: stats log disabled: %v", err)
		} else {
			statsWriter = w
			defer statsWriter.Close()
		}
	}

	src, err := capture.NewPcapSource(*iface, uint16(*ofpPort))
	if err != nil {
		log.Printf("ofsniff: capture source init failed: %v", err)
		os.Exit(1)
	}
	defer src.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("ofsniff: received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	store := latency.NewStore()
	corr := correlator.New(store, statsWriter)

	rtx.Must(capture.Loop(ctx, src, uint16(*ofpPort), corr), "capture loop exited with error")

	log.Print("ofsniff: clean shutdown")
}
