package provider

import (
	"context"
	"fmt"

	"github.com/c4g7-dev/netwatch/internal/bwproto"
	"github.com/c4g7-dev/netwatch/internal/measure"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// LANConfig points the LAN provider at a bandwidth protocol server.
type LANConfig struct {
	Host string
	Port int
	// TransferBytes per direction; 0 uses the protocol default (10 MiB).
	TransferBytes uint64
}

// LAN measures throughput against a bandwidth protocol peer on the
// local network.
type LAN struct {
	cfg    LANConfig
	client *bwproto.Client
	log    logx.Logger
}

func NewLAN(cfg LANConfig, log logx.Logger) *LAN {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LAN{
		cfg: cfg,
		client: bwproto.NewClient(bwproto.ClientConfig{
			Host: cfg.Host,
			Port: cfg.Port,
		}),
		log: log,
	}
}

func (l *LAN) Name() string { return "lan" }

func (l *LAN) ServerName() string {
	return fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
}

func (l *LAN) RunDownload(ctx context.Context) (measure.BandwidthResult, error) {
	res, err := l.client.Download(ctx, l.cfg.TransferBytes)
	if err != nil {
		return measure.BandwidthResult{}, fmt.Errorf("lan download: %w", err)
	}
	l.log.Debug("lan download finished",
		logx.Int64("bytes", res.Bytes),
		logx.Float64("mbps", res.Mbps),
	)
	return res, nil
}

func (l *LAN) RunUpload(ctx context.Context) (measure.BandwidthResult, error) {
	res, err := l.client.Upload(ctx, l.cfg.TransferBytes)
	if err != nil {
		return measure.BandwidthResult{}, fmt.Errorf("lan upload: %w", err)
	}
	if res.ServerMbps > 0 {
		l.log.Debug("lan upload finished",
			logx.Float64("client_mbps", res.Mbps),
			logx.Float64("server_mbps", res.ServerMbps),
		)
	}
	return res.BandwidthResult, nil
}

// Reachable checks the peer with a protocol PING.
func (l *LAN) Reachable(ctx context.Context) bool {
	_, err := l.client.Ping(ctx)
	return err == nil
}
