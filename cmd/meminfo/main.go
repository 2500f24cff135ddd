package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/gen2brain/ndsp"
)

type config struct {
	Kind string `env:"NDSP_REGION" envDefault:"linear"`
	Size int    `env:"NDSP_REGION_SIZE"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing environment: %v\n", err)
		os.Exit(1)
	}

	var (
		probe int
		align int
	)

	flag.StringVar(&cfg.Kind, "region", cfg.Kind, "The region kind ('linear' or 'vram').")
	flag.IntVar(&cfg.Size, "size", cfg.Size, "The region size in bytes (0 = default for the kind).")
	flag.IntVar(&probe, "probe", 0, "Try an allocation of this many bytes and report the outcome.")
	flag.IntVar(&align, "align", ndsp.DefaultAlignment, "The alignment of the probe allocation.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays the accounting of a DSP memory region.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	var kind ndsp.RegionKind
	switch strings.ToLower(cfg.Kind) {
	case "linear":
		kind = ndsp.RegionLinear
	case "vram":
		kind = ndsp.RegionVRAM
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid region kind '%s'. Must be 'linear' or 'vram'.\n", cfg.Kind)
		os.Exit(1)
	}

	region, err := ndsp.NewRegion(&ndsp.RegionConfig{Kind: kind, Size: cfg.Size})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating region: %v\n", err)
		os.Exit(1)
	}
	defer region.Close()

	if probe > 0 {
		before := region.FreeSpace()

		block, err := region.Alloc(probe, align)
		switch {
		case errors.Is(err, ndsp.ErrAllocation):
			fmt.Printf("Probe of %d bytes failed: %v\n\n", probe, err)
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error probing region: %v\n", err)
			os.Exit(1)
		default:
			fmt.Printf("Probe of %d bytes at %#x used %d bytes\n\n", probe, block.Addr(), before-region.FreeSpace())
			fmt.Println(region.Stats())
			_ = block.Free()
		}
	}

	fmt.Println(region.Stats())
}
