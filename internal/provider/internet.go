package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gwatts/rootcerts"
	st "github.com/showwin/speedtest-go/speedtest"

	"github.com/c4g7-dev/netwatch/internal/measure"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// InternetConfig tunes speedtest server selection.
type InternetConfig struct {
	// ServerCount candidates are taken by distance and pinged; the
	// lowest-latency one runs the full test. Default 5.
	ServerCount int
	// PingConcurrency caps concurrent candidate pings. Default 4.
	PingConcurrency int
	// MaxConnections passed through to speedtest-go. Default 4.
	MaxConnections int
}

// Internet measures throughput against a public speedtest server.
// The server is selected lazily on the first transfer and reused for
// the rest of the run so download and upload hit the same endpoint.
type Internet struct {
	cfg InternetConfig
	log logx.Logger

	mu     sync.Mutex
	client *st.Speedtest
	server *st.Server
}

func NewInternet(cfg InternetConfig, log logx.Logger) *Internet {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = 4
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Internet{cfg: cfg, log: log}
}

func (p *Internet) Name() string { return "internet" }

func (p *Internet) ServerName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		return ""
	}
	return p.server.Sponsor
}

func (p *Internet) RunDownload(ctx context.Context) (measure.BandwidthResult, error) {
	s, err := p.ensureServer(ctx)
	if err != nil {
		return measure.BandwidthResult{}, err
	}
	start := time.Now()
	if err := s.DownloadTestContext(ctx); err != nil {
		return measure.BandwidthResult{}, fmt.Errorf("internet download: %w", err)
	}
	return resultFromRate(s.DLSpeed.Mbps(), time.Since(start)), nil
}

func (p *Internet) RunUpload(ctx context.Context) (measure.BandwidthResult, error) {
	s, err := p.ensureServer(ctx)
	if err != nil {
		return measure.BandwidthResult{}, err
	}
	start := time.Now()
	if err := s.UploadTestContext(ctx); err != nil {
		return measure.BandwidthResult{}, fmt.Errorf("internet upload: %w", err)
	}
	return resultFromRate(s.ULSpeed.Mbps(), time.Since(start)), nil
}

// PingMs returns the selected server's latency, 0 before selection.
func (p *Internet) PingMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		return 0
	}
	return float64(p.server.Latency.Milliseconds())
}

// ensureServer fetches the server list, pings the nearest candidates
// and locks in the lowest-latency one.
func (p *Internet) ensureServer(ctx context.Context) (*st.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		return p.server, nil
	}

	if p.client == nil {
		// The embedded CA bundle keeps speedtest TLS working on hosts
		// with a stale or missing system trust store.
		hc := &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     &tls.Config{RootCAs: rootcerts.ServerCertPool()},
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     10 * time.Second,
			},
		}
		p.client = st.New(
			st.WithDoer(hc),
			st.WithUserConfig(&st.UserConfig{
				MaxConnections: p.cfg.MaxConnections,
			}),
		)
		p.client.SetNThread(p.cfg.MaxConnections)
	}

	servers, err := p.client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no speedtest servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := p.cfg.ServerCount
	if n > len(servers) {
		n = len(servers)
	}
	candidates := servers[:n]

	pinged := p.pingCandidates(ctx, candidates)
	if len(pinged) == 0 {
		return nil, fmt.Errorf("all candidate latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	p.server = pinged[0]
	p.log.Info("speedtest server selected",
		logx.String("sponsor", p.server.Sponsor),
		logx.String("host", p.server.Host),
		logx.Duration("latency", p.server.Latency),
	)
	return p.server, nil
}

func (p *Internet) pingCandidates(ctx context.Context, servers []*st.Server) []*st.Server {
	sem := make(chan struct{}, p.cfg.PingConcurrency)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil {
				return
			}
			if s.Latency > 0 {
				out <- s
			}
		}(s)
	}
	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		pinged = append(pinged, s)
	}
	return pinged
}

// resultFromRate back-fills a byte count from the reported rate so the
// record has the same shape as a directly measured transfer.
func resultFromRate(mbps float64, elapsed time.Duration) measure.BandwidthResult {
	secs := elapsed.Seconds()
	return measure.BandwidthResult{
		Bytes:   int64(mbps * 1e6 / 8 * secs),
		Seconds: secs,
		Mbps:    mbps,
	}
}
