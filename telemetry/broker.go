package telemetry

import (
	"fmt"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"
)

// BrokerConfig describes the station's own MQTT broker. With a username set
// only that login may connect; otherwise anyone may.
type BrokerConfig struct {
	Address  string
	Username string
	Password string
}

// Broker is an embedded MQTT broker that other stations and local tools can
// publish to and subscribe on.
type Broker struct {
	server *mochi.Server
	logger *zap.Logger
}

// StartBroker listens on cfg.Address and serves in the background.
func StartBroker(cfg BrokerConfig, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := mochi.New(nil)

	var err error
	if cfg.Username != "" {
		err = server.AddHook(new(auth.Hook), &auth.Options{
			Ledger: &auth.Ledger{
				Auth: auth.AuthRules{
					{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true},
				},
			},
		})
	} else {
		err = server.AddHook(new(auth.AllowHook), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to configure mqtt broker auth: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{Type: "tcp", ID: "sensorhub", Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}
	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("failed to start mqtt broker: %w", err)
	}

	logger.Info("mqtt broker started", zap.String("address", cfg.Address), zap.Bool("auth", cfg.Username != ""))
	return &Broker{server: server, logger: logger}, nil
}

func (b *Broker) Close() error {
	b.logger.Info("mqtt broker stopping")
	return b.server.Close()
}
