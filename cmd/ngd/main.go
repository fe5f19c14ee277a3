// Command ngd is the broker daemon: it loads or creates a peer identity
// under its base directory, binds a listener, and serves inbound
// connections through pkg/broker's connection handler (spec section 6).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/nextgraph-org/ng-verifier-core/pkg/blockstore"
	"github.com/nextgraph-org/ng-verifier-core/pkg/broker"
	"github.com/nextgraph-org/ng-verifier-core/pkg/connfsm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngconfig"
	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
	"github.com/nextgraph-org/ng-verifier-core/pkg/nuri"
	"github.com/nextgraph-org/ng-verifier-core/pkg/orchestrator"
	"github.com/nextgraph-org/ng-verifier-core/pkg/orm"
	"github.com/nextgraph-org/ng-verifier-core/pkg/outbox"
	"github.com/nextgraph-org/ng-verifier-core/pkg/wire"
)

func main() {
	baseDir := flag.String("b", ".ng", "base directory for persisted state")
	port := flag.Int("port", 3012, "TCP port to listen on")
	verbosity := flag.Int("v", 0, "log verbosity (0..4)")
	flag.Parse()

	if *verbosity >= 2 {
		log.SetLevel(log.DebugLevel)
	}

	master, err := loadOrCreateMasterKey(*baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ngd: %v\n", err)
		os.Exit(1)
	}
	subkeys := ngconfig.DeriveSubkeys(master)
	if err := ngconfig.WriteSignProof(*baseDir, subkeys); err != nil {
		fmt.Fprintf(os.Stderr, "ngd: write sign proof: %v\n", err)
		os.Exit(1)
	}

	srvCfg, err := ngconfig.LoadServerConfig(*baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ngd: load server config: %v\n", err)
		os.Exit(1)
	}

	// noEventGraph stands in for the host's quad store until a concrete
	// RDF backend is wired in; ORM subscriptions are inert without one.
	noEventGraph := func(query string) ([]orm.Quad, error) { return nil, nil }
	store := blockstore.NewMemStore()
	ob := outbox.NewMemOutbox()
	orch := orchestrator.New(store, noEventGraph, ob)

	noiseKeypair, err := connfsm.GenerateStaticKeypair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ngd: generate noise keypair: %v\n", err)
		os.Exit(1)
	}

	registry := broker.NewRegistry()
	admin := serverAdminIdentity(srvCfg)
	users := wire.NewUserDirectory(srvCfg.RegistrationMode, admin)
	invitations := wire.NewInvitationRegistry()

	listener := wire.ListenerConfig{IfType: wire.IfPrivate, Port: uint16(*port)}
	if len(srvCfg.Listeners) > 0 {
		listener = srvCfg.Listeners[0]
	}

	var mesh *broker.Mesh
	if srvCfg.MeshListenAddr != "" {
		mesh, err = broker.NewMesh(srvCfg.MeshListenAddr, srvCfg.MeshBootstrapPeers, srvCfg.MeshDiscoveryTag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ngd: mesh: %v\n", err)
			os.Exit(1)
		}
		mesh.OnEvent = func(overlay ngtypes.OverlayID, event ngtypes.Event) {
			registry.DispatchEvent(overlay, event, broker.PeerKey{})
			if err := orch.Deliver(event, overlay, &event.PublisherPeer); err != nil {
				log.WithError(err).Warn("mesh event delivery failed")
			}
		}
		defer mesh.Close()
	}

	srv := &broker.Server{
		StaticKeypair: noiseKeypair,
		Registry:      registry,
		Users:         users,
		Invitations:   invitations,
		Listener:      listener,
		Store:         store,
		DispatchEvent: func(overlay ngtypes.OverlayID, event ngtypes.Event) error {
			if mesh != nil {
				if err := mesh.Broadcast(overlay, event); err != nil {
					log.WithError(err).Warn("mesh broadcast failed")
				}
			}
			return orch.Deliver(event, overlay, &event.PublisherPeer)
		},
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ngd: listen: %v\n", err)
		os.Exit(1)
	}

	var selfID ngtypes.PubKey
	selfID.Kind = ngtypes.KeyKindX25519
	copy(selfID.Bytes[:], noiseKeypair.Public)
	log.WithField("peer_id", nuri.ForIdentity(selfID).String()).Infof("ngd listening on :%d", *port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("ngd shutting down")
		registry.GracefulShutdown()
		ln.Close()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Warn("accept failed")
			continue
		}
		go srv.HandleConn(conn)
	}
}

func loadOrCreateMasterKey(baseDir string) (ngconfig.MasterKey, error) {
	if k, err := ngconfig.LoadMasterKey(baseDir); err == nil {
		return k, nil
	}
	k, err := ngconfig.GenerateMasterKey()
	if err != nil {
		return ngconfig.MasterKey{}, err
	}
	if err := ngconfig.SaveMasterKey(baseDir, k); err != nil {
		return ngconfig.MasterKey{}, err
	}
	return k, nil
}

func serverAdminIdentity(cfg *ngconfig.ServerConfig) ngtypes.PubKey {
	var admin ngtypes.PubKey
	if cfg.AdminUserID == "" {
		return admin
	}
	if n, err := nuri.Parse(cfg.AdminUserID); err == nil {
		if id, err := n.Identity(); err == nil {
			return id
		}
	}
	return admin
}
