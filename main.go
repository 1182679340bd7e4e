/*
 * S390  - Channel subsystem emulator
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	getopt "github.com/pborman/getopt/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rcornwell/S390/command/reader"
	"github.com/rcornwell/S390/emu/core"
	"github.com/rcornwell/S390/emu/master"
	"github.com/rcornwell/S390/emu/timer"
	"github.com/rcornwell/S390/telnet"
	"github.com/rcornwell/S390/util/logger"

	_ "github.com/rcornwell/S390/config/debugconfig"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "S390.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optMetrics := getopt.StringLong("metrics", 'm', "", "Address to serve metrics on")
	optPort := getopt.StringLong("port", 'p', "", "Remote console port")
	optHistory := getopt.StringLong("history", 'H', "", "Console history file")
	optTick := getopt.DurationLong("tick", 't', timer.Interval, "Event queue tick")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var out io.Writer
	if *optLogFile != "" {
		file, err := os.Create(*optLogFile)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
		defer file.Close()
		out = file
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(out, &slog.HandlerOptions{Level: programLevel}, optDebug))
	slog.SetDefault(log)

	log.Info("S390 Started")
	cfg, err := core.LoadConfigFile(*optConfig)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	if *optPort != "" {
		cfg.Ports = append(cfg.Ports, *optPort)
	}
	machine, err := core.New(cfg)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	masterChannel := make(chan master.Packet)
	sim := core.NewCore(machine, masterChannel)
	clock := timer.NewTimer(masterChannel, *optTick)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// Start main emulator.
	g.Go(func() error {
		return sim.Start(ctx)
	})

	if *optMetrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(machine.Registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: *optMetrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			return server.Shutdown(shutdown)
		})
		log.Info("Serving metrics", "addr", *optMetrics)
	}

	consoles, err := telnet.Start(cfg.Ports, sim)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	clock.Start()
	g.Go(func() error {
		reader.ConsoleReader(sim, *optHistory)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err.Error())
	}
	telnet.Stop(consoles)
	clock.Shutdown()
	sim.Stop()
	log.Info("Servers stopped.")
}
