package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/audio"
	"github.com/jrwynneiii/dsdtuner/bridge"
	"github.com/jrwynneiii/dsdtuner/config"
	"github.com/jrwynneiii/dsdtuner/decode"
	"github.com/jrwynneiii/dsdtuner/demod"
	"github.com/jrwynneiii/dsdtuner/metrics"
	"github.com/jrwynneiii/dsdtuner/mode"
	"github.com/jrwynneiii/dsdtuner/radio"
	"github.com/jrwynneiii/dsdtuner/stream"
	"github.com/jrwynneiii/dsdtuner/tui"
	"golang.org/x/sync/errgroup"
)

// iqBuffers is how many IQ and discriminator chunks may queue between stages.
const iqBuffers = 4

func main() {
	log.Info("Starting dsdtuner")
	flags := kong.Parse(&cli,
		kong.Name("dsdtuner"),
		kong.Description("Digital voice decoder bridge for SoapySDR radios and discriminator recordings."),
	)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cli.Profile {
		prof, err := os.Create("./cpu.pprof")
		if err != nil {
			log.Fatalf("Could not create profile: %v", err)
		}
		if err := pprof.StartCPUProfile(prof); err != nil {
			log.Fatalf("Could not start profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	_, conf, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	log.Debugf("Using configuration: %+v", conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch flags.Command() {
	case "probe":
		if err := radio.LogAllSoapySDRDevices(); err != nil {
			log.Fatalf("Probe failed: %v", err)
		}

	case "modes":
		if cli.Modes.Frame != "" {
			conf.Bridge.FrameMode = cli.Modes.Frame
		}
		if cli.Modes.Mod != "" {
			conf.Bridge.ModulationMode = cli.Modes.Mod
		}
		resolved, err := resolve(conf.Bridge)
		if err != nil {
			log.Fatalf("%v", err)
		}
		printModes(resolved)

	case "tune":
		if cli.Tune.Out != "" {
			conf.Output.WAVPath = cli.Tune.Out
		}
		if err := tune(ctx, conf); err != nil {
			log.Fatalf("Tune failed: %v", err)
		}

	case "decode":
		if err := decodeFile(ctx, conf, cli.Decode.In, cli.Decode.Out); err != nil {
			log.Fatalf("Decode failed: %v", err)
		}

	default:
		log.Info("Command not recognized")
	}
}

func resolve(conf config.BridgeConf) (mode.Resolved, error) {
	frame, err := mode.ParseFrameMode(conf.FrameMode)
	if err != nil {
		return mode.Resolved{}, err
	}
	mod, err := mode.ParseModulationMode(conf.ModulationMode)
	if err != nil {
		return mode.Resolved{}, err
	}
	return mode.Resolve(frame, mod, conf.UVQuality, conf.ErrorBars, conf.Verbosity)
}

func printModes(r mode.Resolved) {
	fmt.Println("Frame modes:")
	for _, f := range mode.FrameModes() {
		fmt.Printf("\t%s\n", f)
	}
	fmt.Println("Modulation modes:")
	for _, m := range mode.ModulationModes() {
		fmt.Printf("\t%s\n", m)
	}
	fmt.Printf("\nResolved %s / %s:\n", r.FrameMode, r.ModulationMode)
	for _, line := range r.Describe() {
		fmt.Printf("\t%s\n", line)
	}
	fmt.Printf("\tRF modulation %s, %d samples per symbol (center %d), %d baud\n", r.RFMod, r.SamplesPerSymbol, r.SymbolCenter, r.SymbolRate())
}

// startMetrics installs the Prometheus exporter and serves it in g. It is a
// no-op when no listen address is configured.
func startMetrics(ctx context.Context, g *errgroup.Group, conf config.MetricsConf) (func(context.Context) error, error) {
	if conf.Listen == "" {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := metrics.InitProvider()
	if err != nil {
		return nil, fmt.Errorf("could not start metrics: %w", err)
	}
	g.Go(func() error {
		return metrics.Serve(ctx, conf.Listen)
	})
	return shutdown, nil
}

func newBridge(conf config.Conf) (*bridge.Block, error) {
	resolved, err := resolve(conf.Bridge)
	if err != nil {
		return nil, err
	}
	if conf.Bridge.BlockSize > conf.Bridge.MaxBlock {
		return nil, fmt.Errorf("bridge.block_size %d exceeds bridge.max_block %d", conf.Bridge.BlockSize, conf.Bridge.MaxBlock)
	}
	engine, err := decode.NewEngine(conf.Bridge.Engine, resolved, conf.Monitor)
	if err != nil {
		return nil, err
	}
	return bridge.New(bridge.Config{
		Resolved:     resolved,
		MaxBlock:     conf.Bridge.MaxBlock,
		StallTimeout: conf.Bridge.StallTimeout,
	}, engine, bridge.WithMetrics(metrics.Default()))
}

func tune(ctx context.Context, conf config.Conf) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	shutdown, err := startMetrics(gctx, g, conf.Metrics)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	blk, err := newBridge(conf)
	if err != nil {
		return err
	}
	defer blk.Close()

	log.Debug("Starting init of SDR")
	demodulator, err := demod.New(conf.Demod, conf.Radio.SampleRate, iqBuffers)
	if err != nil {
		return err
	}
	r := radio.New(conf.Radio, demodulator.SampleInput)
	if err := r.Connect(); err != nil {
		return err
	}
	defer r.Destroy()

	level := &stream.Level{}
	sink := stream.MultiSink(level)
	if conf.Output.WAVPath != "" {
		wavOut, err := audio.CreateWAV(conf.Output.WAVPath, decode.OutputRate)
		if err != nil {
			return err
		}
		defer wavOut.Close()
		sink = stream.MultiSink(level, wavOut)
		log.Infof("Writing decoded audio to %s", conf.Output.WAVPath)
	}

	g.Go(func() error { return r.Start(gctx) })
	g.Go(func() error { return demodulator.Start(gctx) })
	g.Go(func() error {
		_, err := stream.Run(gctx, stream.FromChannel(gctx, demodulator.Output), blk, sink, conf.Bridge.BlockSize)
		return err
	})

	var spectrum tui.Spectrum
	if conf.Demod.DoFFT {
		spectrum = demodulator
	}
	uiErr := tui.StartUI(gctx, blk, spectrum, level, conf.Tui)

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(uiErr, err)
	}
	return uiErr
}

func decodeFile(ctx context.Context, conf config.Conf, in, out string) error {
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	g, gctx := errgroup.WithContext(metricsCtx)
	shutdown, err := startMetrics(gctx, g, conf.Metrics)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	src, err := audio.OpenWAV(in, mode.SampleRate)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := audio.CreateWAV(out, decode.OutputRate)
	if err != nil {
		return err
	}

	blk, err := newBridge(conf)
	if err != nil {
		sink.Close()
		return err
	}

	stats, runErr := stream.Run(ctx, src, blk, sink, conf.Bridge.BlockSize)
	closeErr := errors.Join(blk.Close(), sink.Close())

	bs := blk.Stats()
	log.Infof("Decoded %s: %d blocks, %d samples written to %s", in, stats.Blocks, stats.SamplesOut, out)
	log.Infof("Bridge: %d decode cycles, %d silent blocks, %d short, %d stalls", bs.Cycles, bs.ZeroBlocks, bs.ShortCycles, bs.Stalls)

	stopMetrics()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(runErr, closeErr, err)
	}
	return errors.Join(runErr, closeErr)
}
