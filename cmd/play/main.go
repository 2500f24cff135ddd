package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"

	"github.com/gen2brain/ndsp"
)

// config is read from the environment and overridden by flags.
type config struct {
	LinearSize int           `env:"NDSP_LINEAR_SIZE" envDefault:"33554432"`
	Channel    int           `env:"NDSP_CHANNEL" envDefault:"0"`
	Interval   time.Duration `env:"NDSP_INTERVAL" envDefault:"10ms"`
	Debug      bool          `env:"NDSP_DEBUG"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing environment: %v\n", err)
		os.Exit(1)
	}

	var (
		loop bool
		rate int
	)

	flag.IntVar(&cfg.LinearSize, "linear-size", cfg.LinearSize, "The size of the linear memory region in bytes")
	flag.IntVar(&cfg.Channel, "channel", cfg.Channel, "The mixer channel to play on")
	flag.DurationVar(&cfg.Interval, "interval", cfg.Interval, "The emulator tick interval")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.BoolVar(&loop, "loop", false, "Loop the sound until interrupted")
	flag.IntVar(&rate, "rate", 0, "The playback rate in Hz (0 = use the file's rate)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav|mp3|ogg-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nPlays a sound through the emulated DSP mixer.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := ndsp.NewLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	region, err := ndsp.NewRegion(&ndsp.RegionConfig{
		Kind:   ndsp.RegionLinear,
		Size:   cfg.LinearSize,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating linear region: %v\n", err)
		os.Exit(1)
	}
	defer region.Close()

	path := flag.Arg(0)
	buffer, fileRate, err := ndsp.LoadFile(region, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
		os.Exit(1)
	}
	defer buffer.Close()

	if rate <= 0 {
		rate = int(fileRate)
	}

	mixer := ndsp.NewEmulator(&ndsp.EmulatorConfig{Logger: logger})
	if err := mixer.SetRate(cfg.Channel, uint32(rate)); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring channel %d: %v\n", cfg.Channel, err)
		os.Exit(1)
	}

	info, err := ndsp.NewWaveInfo(buffer, loop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating wave info: %v\n", err)
		os.Exit(1)
	}
	defer info.Close()

	fmt.Printf("Playing: %s\n", path)
	fmt.Printf("Format: %s, %d samples, %d Hz (%s)\n", buffer.Format(), buffer.SampleCount(), rate, buffer.Duration(uint32(rate)).Round(time.Millisecond))
	fmt.Printf("Channel: %d, free linear memory: %d bytes\n", cfg.Channel, region.FreeSpace())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		_ = mixer.Run(ctx, cfg.Interval)
	}()

	if err := info.Queue(mixer, cfg.Channel); err != nil {
		fmt.Fprintf(os.Stderr, "Error queueing wave info: %v\n", err)
		os.Exit(1)
	}

	startTime := time.Now()
	status := info.Status()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for status != ndsp.STATUS_DONE {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")

			// Closing the wave info clears the channel while it is still playing.
			return
		case <-ticker.C:
		}

		if s := info.Status(); s != status {
			logger.Debug("status changed", "from", status, "to", s)
			status = s
		}

		fmt.Printf("\r%-8s %d/%d samples", status, mixer.SamplePos(cfg.Channel), buffer.SampleCount())
	}

	fmt.Printf("\nPlayback finished in %v.\n", time.Since(startTime).Round(time.Millisecond))
}
