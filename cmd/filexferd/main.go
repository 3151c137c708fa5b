// Command filexferd runs the session dispatcher: a single well-known-port
// listener that hands each incoming client off to its own worker port and
// runs the handshake and data-phase engine for that session.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iLukSbr/filexfer/internal/dispatcher"
	"github.com/iLukSbr/filexfer/internal/handshake"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/telemetry"
)

func main() {
	baseDir := flag.String("dir", ".", "Directory sessions read/write their files under")
	logPath := flag.String("log-file", "", "Write JSON session logs here instead of stderr")
	verbose := flag.Bool("v", false, "Enable debug-level logging")
	metricsAddr := flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9100)")
	alwaysOverwrite := flag.Bool("always-overwrite", false, "Never resume a cosend-eligible transfer, always start from offset 0")
	flag.Parse()

	var log *rxlog.Logger
	var err error
	if *logPath != "" {
		log, err = rxlog.NewFile(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "filexferd: open log file: %v\n", err)
			os.Exit(1)
		}
	} else {
		log = rxlog.New()
	}
	if *verbose {
		log.SetLevel(rxlog.LevelDebug)
	}

	decision := handshake.DecisionCosend
	if *alwaysOverwrite {
		decision = handshake.DecisionResend
	}

	var observer telemetry.Observer = telemetry.Noop{}
	if *metricsAddr != "" {
		collector := telemetry.NewPrometheusCollector()
		prometheus.MustRegister(collector)
		observer = collector
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Infof("filexferd: serving metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Errorf("filexferd: metrics server: %v", err)
			}
		}()
	}

	hooks := dispatcher.SessionHooks{
		Observer:      observer,
		ResumeDecider: handshake.NonInteractive(decision),
		BaseDir:       *baseDir,
	}

	d, err := dispatcher.New(log, hooks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filexferd: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	log.Infof("filexferd: listening, serving files under %s", *baseDir)
	if err := d.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "filexferd: serve: %v\n", err)
		os.Exit(1)
	}
}
