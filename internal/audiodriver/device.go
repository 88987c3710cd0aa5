/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audiodriver implements the network audio I/O boundary standing
// in for a local sound card: raw PCM frames travel over RTP instead of a
// ring buffer shared with kernel audio, adapted from the teacher's
// webrtc.Broadcaster. Capture audio arrives over a plain UDP RTP listener
// from an external capture process; playback audio is sent back out to
// any browser or tool that has negotiated a WebRTC session through
// HandleSignaling. No sample format conversion or resampling happens
// anywhere in this package: every frame is periodFrames contiguous
// float32 samples, the same builtin type the rest of the graph uses.
package audiodriver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
	"github.com/friendsincode/patchbay/internal/patchbay/driver"
)

// Config mirrors the teacher's webrtc.Config, renamed for the network
// audio device rather than a pure broadcaster.
type Config struct {
	RTPPort      int
	STUNServer   string
	TURNServer   string
	TURNUsername string
	TURNPassword string
}

// Device is the realtime period source and, simultaneously, the "system"
// client: its capture output port is fed from the UDP RTP listener and
// its playback input port is read once per cycle and re-sent as RTP to
// every signaled peer. Registering the physical boundary as an ordinary
// patchbay.Client mirrors how a JACK backend publishes system: capture
// and playback ports rather than being a privileged special case.
type Device struct {
	mu     sync.Mutex
	pool   *buffer.Pool
	comp   *compiler.Compiler
	logger zerolog.Logger
	config Config

	captureOut patchbay.PortID
	playbackIn patchbay.PortID

	periodFrames int
	rtpConn      *net.UDPConn
	cancel       context.CancelFunc

	periods chan struct{}
	latest  []float32

	outSeq  uint16
	outTS   uint32
	outSSRC uint32

	peers map[string]*peer
}

// NewDevice creates a Device bound to pool and comp, periodFrames samples
// at a time. SetPorts must be called with the "system" client's registered
// capture/playback port IDs before Start; the engine that owns pool/comp
// registers those ports after construction, since a client's ports can
// only be created once the client itself is known to the session manager.
func NewDevice(pool *buffer.Pool, comp *compiler.Compiler, periodFrames int, cfg Config, logger zerolog.Logger) *Device {
	if cfg.RTPPort == 0 {
		cfg.RTPPort = 5004
	}
	return &Device{
		pool:         pool,
		comp:         comp,
		logger:       logger.With().Str("component", "audiodriver").Logger(),
		config:       cfg,
		periodFrames: periodFrames,
		periods:      make(chan struct{}, 4),
		latest:       make([]float32, periodFrames),
		outSSRC:      0x706174, // "pat" — fixed SSRC for the playback stream
		peers:        make(map[string]*peer),
	}
}

// SetPorts binds the capture output and playback input port identities
// once they are registered on the session manager.
func (d *Device) SetPorts(captureOut, playbackIn patchbay.PortID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captureOut = captureOut
	d.playbackIn = playbackIn
}

// Name identifies this client in the run-list the same way any other
// client's registered name would.
func (d *Device) Name() string { return "system" }

// Start opens the capture UDP listener. Call once before the engine's
// driver loop starts pulling periods.
func (d *Device) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: d.config.RTPPort})
	if err != nil {
		return fmt.Errorf("listen UDP %d: %w", d.config.RTPPort, err)
	}
	d.rtpConn = conn

	capCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.readCapture(capCtx)

	d.logger.Info().Int("port", d.config.RTPPort).Msg("capture RTP listener started")
	return nil
}

// Stop tears down the capture listener and every signaled peer.
func (d *Device) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.rtpConn != nil {
		d.rtpConn.Close()
	}
	d.mu.Lock()
	for id, p := range d.peers {
		p.close()
		delete(d.peers, id)
	}
	d.mu.Unlock()
}

// NextPeriod implements driver.PeriodSource: it blocks until a capture
// RTP packet carrying a full period has arrived, so the realtime loop is
// paced by the network sender rather than a local clock.
func (d *Device) NextPeriod(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-d.periods:
		return d.periodFrames, nil
	}
}

// RunProcess is called once per cycle, in run-list order, the same as any
// other client's process callback: it publishes the most recently
// received capture frame to its output port, then reads whatever routed
// into its playback input and ships it back out as RTP.
func (d *Device) RunProcess(ctx context.Context, nframes int) error {
	d.mu.Lock()
	capture := append([]float32(nil), d.latest...)
	captureOut, playbackIn := d.captureOut, d.playbackIn
	d.mu.Unlock()

	if captureOut.IsZero() || playbackIn.IsZero() {
		return nil
	}

	out := d.pool.Output(captureOut)
	copy(out, capture)

	snap := d.comp.Load()
	if snap == nil {
		return nil
	}
	playback := driver.InputBuffer(d.pool, snap, playbackIn)
	d.sendPlayback(playback)
	return nil
}

func (d *Device) readCapture(ctx context.Context) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.rtpConn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := d.rtpConn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			d.logger.Error().Err(err).Msg("capture RTP read error")
			continue
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			d.logger.Debug().Err(err).Msg("invalid capture RTP packet")
			continue
		}

		frame := bytesToFloat32(pkt.Payload)
		if len(frame) != d.periodFrames {
			d.logger.Debug().Int("got", len(frame)).Int("want", d.periodFrames).Msg("capture packet has unexpected frame count")
			continue
		}

		d.mu.Lock()
		copy(d.latest, frame)
		d.mu.Unlock()

		select {
		case d.periods <- struct{}{}:
		default:
			// A period is already pending; the driver is still catching up.
			// Dropping this signal (not the frame, which d.latest already
			// holds) is the deliberate backpressure behavior here.
		}
	}
}

// sendPlayback marshals frame as one RTP packet per connected peer's data
// channel. No peers means the mixed output simply has nowhere to go that
// cycle, same as an unplugged physical output.
func (d *Device) sendPlayback(frame []float32) {
	d.mu.Lock()
	d.outSeq++
	d.outTS += uint32(len(frame))
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: d.outSeq,
			Timestamp:      d.outTS,
			SSRC:           d.outSSRC,
		},
		Payload: float32ToBytes(frame),
	}
	peers := make([]*peer, 0, len(d.peers))
	for _, p := range d.peers {
		peers = append(peers, p)
	}
	d.mu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		d.logger.Debug().Err(err).Msg("playback RTP marshal error")
		return
	}
	for _, p := range peers {
		p.send(raw)
	}
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func float32ToBytes(f []float32) []byte {
	out := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
