/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audiodriver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// signalMessage mirrors the teacher's SignalMessage, unchanged in shape:
// only the payload riding the channel changes from Opus RTP to raw PCM.
type signalMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// peer is one signaled WebRTC session. Playback reaches it over an
// unreliable, unordered DataChannel rather than a media track: a
// TrackLocalStaticRTP only ever negotiates as an encoded codec (Opus in
// the teacher's case), and carrying raw float32 PCM that way would
// require exactly the kind of format conversion this driver deliberately
// avoids.
type peer struct {
	id   string
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	done chan struct{}

	mu    sync.Mutex
	ready bool
}

func (p *peer) send(raw []byte) {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return
	}
	_ = p.dc.Send(raw)
}

func (p *peer) close() {
	if p.pc != nil {
		p.pc.Close()
	}
}

func (d *Device) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

func (d *Device) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if d.config.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{d.config.STUNServer}})
	}
	if d.config.TURNServer != "" {
		turn := webrtc.ICEServer{URLs: []string{d.config.TURNServer}}
		if d.config.TURNUsername != "" {
			turn.Username = d.config.TURNUsername
			turn.Credential = d.config.TURNPassword
			turn.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, turn)
	}
	return servers
}

func (d *Device) createPeerConnection(peerID string) (*peer, error) {
	api, err := d.newAPI()
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: d.iceServers()})
	if err != nil {
		return nil, err
	}

	ordered := false
	dc, err := pc.CreateDataChannel("pcm", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &peer{id: peerID, pc: pc, dc: dc, done: make(chan struct{})}
	dc.OnOpen(func() {
		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()
	})
	dc.OnClose(func() {
		p.mu.Lock()
		p.ready = false
		p.mu.Unlock()
	})
	return p, nil
}

// HandleSignaling negotiates one WebRTC session over a WebSocket, the
// same handshake shape as the teacher's Broadcaster.HandleSignaling:
// accept, build a peer connection, exchange offer/answer and trickled
// ICE candidates as JSON frames.
func (d *Device) HandleSignaling(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		d.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	peerID := uuid.NewString()

	p, err := d.createPeerConnection(peerID)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to create peer connection")
		wsjson.Write(ctx, conn, signalMessage{Type: "error", Error: err.Error()})
		return
	}

	d.mu.Lock()
	d.peers[peerID] = p
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.peers, peerID)
		d.mu.Unlock()
		p.close()
	}()

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate := c.ToJSON()
		wsjson.Write(ctx, conn, signalMessage{Type: "candidate", Candidate: &candidate})
	})
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			close(p.done)
		}
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		wsjson.Write(ctx, conn, signalMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		wsjson.Write(ctx, conn, signalMessage{Type: "error", Error: err.Error()})
		return
	}
	<-webrtc.GatheringCompletePromise(p.pc)

	if err := wsjson.Write(ctx, conn, signalMessage{Type: "offer", SDP: p.pc.LocalDescription()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
		}

		var msg signalMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		switch msg.Type {
		case "answer":
			if msg.SDP != nil {
				p.pc.SetRemoteDescription(*msg.SDP)
			}
		case "candidate":
			if msg.Candidate != nil {
				p.pc.AddICECandidate(*msg.Candidate)
			}
		}
	}
}

// PeerCount reports how many peers currently have a signaled session.
func (d *Device) PeerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}
