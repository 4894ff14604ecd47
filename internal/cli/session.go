package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/config"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/signaling"
	"github.com/kkrugley/pinq/internal/transfer"
	"github.com/kkrugley/pinq/internal/ui"
	"github.com/kkrugley/pinq/internal/webrtc"
)

// connection is what both commands hold while a room is open.
type connection struct {
	cfg       *config.Config
	client    *signaling.Client
	connector *webrtc.Connector
	log       *slog.Logger
}

func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: flagConfig,
		Server:     flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Dir:        dir,
	})
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.TURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// dial wakes the broker and opens the signaling connection.
func dial(ctx context.Context, cfg *config.Config) (*connection, error) {
	log := slog.Default()

	stopSpinner := ui.RunConnectionSpinner("Connecting to broker...")
	defer stopSpinner()

	warmCtx, cancel := context.WithTimeout(ctx, pairing.PrewarmTimeout)
	defer cancel()
	if err := signaling.Prewarm(warmCtx, cfg.HealthURL); err != nil {
		log.Debug("prewarm failed, dialing anyway", "url", cfg.HealthURL, "error", err)
	}

	client := signaling.NewClient(signaling.Options{
		URL:        cfg.WebSocketURL,
		ClientType: pairing.ClientTypeCLI,
		Logger:     log,
	})
	if err := client.Connect(ctx, pairing.ConnectTimeout); err != nil {
		return nil, transfer.NewError("connect to broker", err)
	}

	return &connection{
		cfg:       cfg,
		client:    client,
		connector: webrtc.NewConnector(cfg, log),
		log:       log,
	}, nil
}

func (c *connection) Close() {
	c.client.Disconnect()
}

// join enters room code and reports the other member's client type when
// one is already present.
func (c *connection) join(ctx context.Context, code string, role pairing.Role) (*signaling.JoinResult, error) {
	res, err := c.client.Join(ctx, code, role, pairing.JoinTimeout)
	if err != nil {
		return nil, transfer.WrapError("join room", err, code)
	}
	return res, nil
}

// peerFormat picks the metadata format from the peers listed on join.
func peerFormat(peers []pairing.PeerInfo) codec.Format {
	if len(peers) == 0 {
		return codec.FormatJSON
	}
	return codec.SelectFormat(peers[0].ClientType)
}

func (c *connection) options(code string, peers []pairing.PeerInfo, observer transfer.Observer) transfer.Options {
	return transfer.Options{
		Code:        code,
		Signaler:    c.client,
		Connector:   c.connector,
		Format:      peerFormat(peers),
		PeerPresent: len(peers) > 0,
		Logger:      c.log,
		Observer:    observer,
	}
}

// friendly rewrites the errors people hit most into plain advice.
func friendly(err error) error {
	switch {
	case errors.Is(err, signaling.ErrRoomNotFound):
		return fmt.Errorf("%w: check the code, or ask the sender to start again", err)
	case errors.Is(err, signaling.ErrRoomFull):
		return fmt.Errorf("%w: someone else already joined this code", err)
	case errors.Is(err, transfer.ErrPeerConnectTimeout), errors.Is(err, transfer.ErrConnectionFailed):
		return fmt.Errorf("%w: a firewall may be blocking the direct connection, try --relay with a TURN server", err)
	case errors.Is(err, context.Canceled):
		return errors.New("cancelled")
	}
	return err
}
