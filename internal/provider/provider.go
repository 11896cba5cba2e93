// Package provider abstracts the throughput backend of a measurement
// run: either a bandwidth protocol server on the LAN or a public
// speedtest server on the internet.
package provider

import (
	"context"

	"github.com/c4g7-dev/netwatch/internal/measure"
)

// Provider runs one direction of a throughput test at a time. The
// orchestrator drives download and upload as separate phases so it can
// attribute loaded-ping samples to the transfer window.
type Provider interface {
	// Name identifies the backend for logs and persisted runs.
	Name() string
	// ServerName describes the concrete remote endpoint once one has
	// been selected; may be empty before the first transfer.
	ServerName() string

	RunDownload(ctx context.Context) (measure.BandwidthResult, error)
	RunUpload(ctx context.Context) (measure.BandwidthResult, error)
}
