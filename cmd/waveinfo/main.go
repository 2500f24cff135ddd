package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gen2brain/ndsp"
)

func main() {
	var (
		help    bool
		looping bool
	)

	flag.BoolVar(&help, "help", false, "Show this help message")
	flag.BoolVar(&looping, "loop", false, "Build a looping descriptor")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav|mp3|ogg-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nDecodes a sound into linear memory and shows the resulting wave buffer.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fmt.Fprintln(os.Stderr, "  --help      Show this help message")
		fmt.Fprintln(os.Stderr, "  --loop      Build a looping descriptor")
	}

	flag.Parse()

	if help || flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	path := flag.Arg(0)

	region, err := ndsp.NewRegion(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create linear region: %v\n", err)
		os.Exit(1)
	}
	defer region.Close()

	buffer, rate, err := ndsp.LoadFile(region, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load file: %v\n", err)
		os.Exit(1)
	}
	defer buffer.Close()

	info, err := ndsp.NewWaveInfo(buffer, looping)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create wave info: %v\n", err)
		os.Exit(1)
	}
	defer info.Close()

	desc := info.Descriptor()

	fmt.Printf("Filename:           %s\n", path)
	fmt.Printf("Format:             %s (%d)\n", buffer.Format(), buffer.Format())
	fmt.Printf("Channels:           %d\n", buffer.Format().Channels())
	fmt.Printf("Bits Per Frame:     %d\n", ndsp.FormatToBits(buffer.Format()))
	fmt.Printf("Sample Rate:        %d Hz\n", rate)
	fmt.Printf("Samples:            %d\n", buffer.SampleCount())
	fmt.Printf("Bytes:              %d\n", buffer.Len())
	fmt.Printf("Duration:           %s\n", formatDuration(buffer.Duration(rate)))
	fmt.Printf("Address:            %#x\n", desc.Addr())
	fmt.Printf("Looping:            %t\n", desc.Looping())
	fmt.Printf("Status:             %s\n", info.Status())
	fmt.Printf("Free Linear Memory: %d bytes\n", region.FreeSpace())
}

// formatDuration formats a time.Duration as HH:MM:SS.ms.
func formatDuration(d time.Duration) string {
	nanos := d.Nanoseconds() % 1e9
	millis := nanos / 1e6

	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
