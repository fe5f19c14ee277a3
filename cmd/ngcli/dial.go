package main

import (
	"encoding/base64"
	"fmt"
	"net"

	"github.com/nextgraph-org/ng-verifier-core/pkg/connfsm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngconfig"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

// conn pairs a live socket with the client-side FSM and cipher framing it
// negotiated, so every subcommand sends/receives through the same two
// helpers regardless of which authenticated flow it drives.
type conn struct {
	net.Conn
	fsm *connfsm.FSM
}

func (c *conn) send(msg wire.Message) error {
	return wire.WriteFrame(c.Conn, msg, c.fsm.Cipher())
}

func (c *conn) recv() (wire.Message, error) {
	return wire.ReadFrame(c.Conn, c.fsm.Cipher())
}

// dial opens a TCP connection to cfg's server and drives the client side of
// the Noise-XK handshake to completion, returning a conn ready to send the
// Start message for whichever flow the caller needs (spec section 4.5).
func dial(cfg *ngconfig.ClientConfig) (*conn, error) {
	if cfg.ServerIP == "" {
		return nil, fmt.Errorf("no server configured: set -s IP,PORT,PEER_ID or NG_CLIENT_SERVER")
	}
	addr := fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.ServerPort)
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	clientKeypair, err := connfsm.GenerateStaticKeypair()
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("generate client keypair: %w", err)
	}
	serverStatic, err := base64.RawURLEncoding.DecodeString(cfg.ServerPeerID)
	if err != nil || len(serverStatic) != 32 {
		raw.Close()
		return nil, fmt.Errorf("server peer id %q: not a valid base64url static key", cfg.ServerPeerID)
	}

	fsm, err := connfsm.NewClientFSM(clientKeypair, serverStatic)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("new client fsm: %w", err)
	}

	msg1, err := fsm.StepNoise0()
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := wire.WriteFrame(raw, wire.Message{Kind: wire.KindNoise, NoisePayload: msg1}, nil); err != nil {
		raw.Close()
		return nil, fmt.Errorf("send noise msg1: %w", err)
	}

	resp, err := wire.ReadFrame(raw, nil)
	if err != nil || resp.Kind != wire.KindNoise {
		raw.Close()
		return nil, fmt.Errorf("read noise msg2: %w", err)
	}
	final, err := fsm.StepNoise2(resp.NoisePayload)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := wire.WriteFrame(raw, wire.Message{Kind: wire.KindNoise, NoisePayload: final}, nil); err != nil {
		raw.Close()
		return nil, fmt.Errorf("send noise msg3: %w", err)
	}

	return &conn{Conn: raw, fsm: fsm}, nil
}
