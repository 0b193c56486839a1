// Command redlsim simulates two RaSTA peers exchanging payloads over an
// in-memory duplex link, each driving its own redundancy layer on a
// ticker: one goroutine per simulated peer, a context-driven stop signal,
// a WaitGroup for clean shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goserial "github.com/hootrhino/goserial"
	"go.uber.org/zap"

	"github.com/railgo/rasta-redl/redcfg"
	"github.com/railgo/rasta-redl/redint"
	"github.com/railgo/rasta-redl/redtyp"
)

const (
	pollInterval  = 20 * time.Millisecond
	tSeqMillis    = 50
	nDiagnosis    = 10
	deferQueueLen = 4
)

// linkTransport is what a simulated peer drives: the redcor.Transport
// contract plus a non-blocking pending() query the poll loop uses to
// decide which transport ids to flag before calling CheckTimings.
type linkTransport interface {
	Send(transportID uint32, data []byte)
	Read(transportID uint32, buf []byte) (int, bool)
	pending() []uint32
}

func main() {
	serialPort := flag.String("serial-port", "", "if set, run a single peer bridging its one redundancy channel over this serial port (e.g. /dev/ttyUSB0) instead of the two-peer in-memory loopback demo")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *serialPort != "" {
		runSerialBridge(ctx, *serialPort, logger)
		return
	}
	runLoopbackDemo(ctx, logger)
}

// runLoopbackDemo simulates two RaSTA peers exchanging payloads entirely
// in memory: no real transport is involved, so the redundancy channel's
// ingress classifier and diagnostics run against a fully deterministic
// link.
func runLoopbackDemo(ctx context.Context, logger *zap.Logger) {
	transportIDs := []uint32{0, 1}
	linkA, linkB := newLoopbackPair(transportIDs, 16)

	peerA, err := newPeer("peer-a", linkA, logger.Named("peer-a"))
	if err != nil {
		logger.Fatal("build peer-a", zap.Error(err))
	}
	peerB, err := newPeer("peer-b", linkB, logger.Named("peer-b"))
	if err != nil {
		logger.Fatal("build peer-b", zap.Error(err))
	}

	if err := peerA.layer.Open(0); err != nil {
		logger.Fatal("open peer-a channel", zap.Error(err))
	}
	if err := peerB.layer.Open(0); err != nil {
		logger.Fatal("open peer-b channel", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go peerA.run(ctx, &wg)
	go peerB.run(ctx, &wg)

	go driveSendLoop(ctx, peerA, logger)

	<-ctx.Done()
	wg.Wait()

	logger.Info("peer-a drop counters", zap.Any("dropped", peerA.metrics.snapshot()))
	logger.Info("peer-b drop counters", zap.Any("dropped", peerB.metrics.snapshot()))
}

// runSerialBridge drives a single redundancy channel with exactly one
// transport channel, a real goserial-backed physical link, for testing
// against an external RaSTA peer.
func runSerialBridge(ctx context.Context, address string, logger *zap.Logger) {
	port, err := goserial.Open(&goserial.Config{
		Address:  address,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  5000 * time.Millisecond,
	})
	if err != nil {
		logger.Fatal("open serial port", zap.String("port", address), zap.Error(err))
	}
	defer port.Close()

	link := newSerialTransport(0, port, logger.Named("serial"))
	p, err := newSinglePeer("bridge", link, logger.Named("bridge"))
	if err != nil {
		logger.Fatal("build serial bridge peer", zap.Error(err))
	}
	if err := p.layer.Open(0); err != nil {
		logger.Fatal("open bridge channel", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go p.run(ctx, &wg)
	go driveSendLoop(ctx, p, logger)

	<-ctx.Done()
	wg.Wait()
	logger.Info("bridge drop counters", zap.Any("dropped", p.metrics.snapshot()))
}

// peer bundles one redundancy layer with the simulated link it drives and
// the metrics sink observing it.
type peer struct {
	name    string
	layer   *redint.Layer
	link    linkTransport
	metrics *countingMetrics
	logger  *zap.Logger
}

// newPeer builds a peer with the two-transport-channel configuration used
// by the in-memory loopback demo.
func newPeer(name string, link linkTransport, logger *zap.Logger) (*peer, error) {
	return newPeerWithTransportIDs(name, link, []uint32{0, 1}, logger)
}

// newSinglePeer builds a peer with a single transport channel, for the
// serial bridge demo where exactly one physical link exists.
func newSinglePeer(name string, link linkTransport, logger *zap.Logger) (*peer, error) {
	return newPeerWithTransportIDs(name, link, []uint32{0}, logger)
}

func newPeerWithTransportIDs(name string, link linkTransport, transportIDs []uint32, logger *zap.Logger) (*peer, error) {
	metrics := newCountingMetrics(logger)
	p := &peer{name: name, link: link, metrics: metrics, logger: logger}

	layer, err := redint.New(redint.SystemAdapter{
		NowMillis: monotonicMillis(),
		FatalError: func(code redtyp.FatalCode) {
			logger.Error("fatal error reported by redundancy layer", zap.String("peer", name), zap.Stringer("code", code))
		},
		Logger:  logger,
		Metrics: metrics,
	}, func(channelID uint32) {
		logger.Debug("message received notification", zap.String("peer", name), zap.Uint32("channel_id", channelID))
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("redint.New: %w", err)
	}

	ch, err := redcfg.NewChannelConfig(0, transportIDs)
	if err != nil {
		return nil, fmt.Errorf("NewChannelConfig: %w", err)
	}
	cfg, err := redcfg.NewConfig(redtyp.CheckCodeD, tSeqMillis, nDiagnosis, deferQueueLen, []redcfg.ChannelConfig{ch})
	if err != nil {
		return nil, fmt.Errorf("NewConfig: %w", err)
	}
	if err := layer.Init(cfg, link); err != nil {
		return nil, fmt.Errorf("Init: %w", err)
	}

	p.layer = layer
	return p, nil
}

// run is the per-peer poll loop: grounded on ModbusDevicePoller.poll(),
// substituting a flag-pending-then-check-timings cycle for a register
// read. Each tick flags every transport id carrying a queued datagram
// pending, then lets CheckTimings drain and deliver it.
func (p *peer) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *peer) tick() {
	for _, id := range p.link.pending() {
		if err := p.layer.TransportMessageReceived(id); err != nil {
			p.logger.Warn("TransportMessageReceived failed", zap.Uint32("transport_id", id), zap.Error(err))
		}
	}
	if err := p.layer.CheckTimings(); err != nil {
		p.logger.Warn("CheckTimings failed", zap.Error(err))
	}

	out := make([]byte, redtyp.MaxPayloadSize)
	for {
		n, err := p.layer.Read(0, out)
		if err != nil {
			break
		}
		p.logger.Info("payload delivered", zap.String("peer", p.name), zap.Int("bytes", n))
	}
}

// driveSendLoop periodically sends a payload from src, simulating upper-
// layer application traffic.
func driveSendLoop(ctx context.Context, src *peer, logger *zap.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var counter byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := make([]byte, redtyp.MinPayloadSize)
			payload[0] = counter
			counter++
			if err := src.layer.Send(0, payload); err != nil {
				logger.Warn("send failed", zap.Error(err))
			}
		}
	}
}

// monotonicMillis returns a NowMillis function backed by time.Now,
// wrapping to a uint32 millisecond counter the same way the wire format's
// sequence numbers wrap.
func monotonicMillis() func() uint32 {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}
}
