// nwbench is a command-line client for the bandwidth protocol: ping,
// download and upload against a netwatch server on the LAN.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/c4g7-dev/netwatch/internal/bwproto"
	"github.com/c4g7-dev/netwatch/internal/measure"
)

var version = "dev"

type report struct {
	Server       string               `json:"server"`
	PingMs       float64              `json:"ping_ms"`
	JitterMs     float64              `json:"jitter_ms"`
	Download     *measure.BandwidthResult `json:"download,omitempty"`
	Upload       *measure.BandwidthResult `json:"upload,omitempty"`
	ServerStatus string               `json:"server_status,omitempty"`
}

func main() {
	var (
		host       string
		port       int
		bytes      uint64
		pingCount  int
		jsonOut    bool
		pingOnly   bool
		statusOnly bool
	)
	flag.StringVarP(&host, "host", "H", "", "server host (required)")
	flag.IntVarP(&port, "port", "p", 5201, "server port")
	flag.Uint64VarP(&bytes, "bytes", "b", 0, "bytes per direction (default 10 MiB)")
	flag.IntVarP(&pingCount, "count", "n", 5, "ping samples")
	flag.BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	flag.BoolVar(&pingOnly, "ping-only", false, "skip the throughput phases")
	flag.BoolVar(&statusOnly, "status", false, "query server status and exit")
	showVersion := flag.BoolP("version", "V", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("nwbench", version)
		return
	}
	if host == "" {
		fmt.Fprintln(os.Stderr, "error: --host is required")
		flag.Usage()
		os.Exit(2)
	}

	client := bwproto.NewClient(bwproto.ClientConfig{Host: host, Port: port})
	ctx := context.Background()
	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	if !jsonOut {
		color.New(color.FgCyan).Printf("\n    nwbench v%s\n\n", version)
	}

	rep := report{Server: fmt.Sprintf("%s:%d", host, port)}

	if statusOnly {
		status, err := client.Status(ctx)
		if err != nil {
			fail("status", err)
		}
		rep.ServerStatus = status
		if jsonOut {
			printJSON(rep)
			return
		}
		fmt.Printf("%s Server: %s\n%s %s\n", cyan("✓"), rep.Server, cyan("✓"), status)
		return
	}

	samples := make([]float64, 0, pingCount)
	for i := 0; i < pingCount; i++ {
		rtt, err := client.Ping(ctx)
		if err != nil {
			fail("ping", err)
		}
		samples = append(samples, float64(rtt.Microseconds())/1000)
	}
	stats := measure.StatsFromSamples(samples, pingCount)
	rep.PingMs = stats.AvgMs
	rep.JitterMs = stats.JitterMs
	if !jsonOut {
		fmt.Printf("%s Server: %s\n", cyan("✓"), rep.Server)
		fmt.Printf("%s Ping: %.2f ms (jitter %.2f ms, %d samples)\n", green("✓"), stats.AvgMs, stats.JitterMs, stats.Samples)
	}

	if !pingOnly {
		start := time.Now()
		dl, err := client.Download(ctx, bytes)
		if err != nil {
			fail("download", err)
		}
		rep.Download = &dl
		if !jsonOut {
			fmt.Printf("%s Download: %.2f Mbps (%s in %s)\n",
				green("↓"), dl.Mbps, humanize.Bytes(uint64(dl.Bytes)), time.Since(start).Round(time.Millisecond))
		}

		start = time.Now()
		ul, err := client.Upload(ctx, bytes)
		if err != nil {
			fail("upload", err)
		}
		rep.Upload = &ul.BandwidthResult
		if !jsonOut {
			fmt.Printf("%s Upload: %.2f Mbps (%s in %s)\n",
				green("↑"), ul.Mbps, humanize.Bytes(uint64(ul.Bytes)), time.Since(start).Round(time.Millisecond))
			if ul.ServerMbps > 0 {
				fmt.Printf("  server measured %.2f Mbps\n", ul.ServerMbps)
			}
		}
	}

	if jsonOut {
		printJSON(rep)
	} else {
		fmt.Println()
	}
}

func printJSON(rep report) {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		fail("encode", err)
	}
	fmt.Println(string(b))
}

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", stage, err)
	os.Exit(1)
}
