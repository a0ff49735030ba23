package bambu

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// v5Transport is an MQTT 5 [Transport] built on autopaho's connection
// manager.
type v5Transport struct {
	cfg    TransportConfig
	logger *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

func newV5Transport(cfg TransportConfig, logger *slog.Logger) *v5Transport {
	return &v5Transport{cfg: cfg, logger: logger}
}

// Connect implements [Transport]. The connection manager keeps running
// until Disconnect is called or ctx is cancelled.
func (t *v5Transport) Connect(ctx context.Context, handler MessageHandler) error {
	brokerURL, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		TlsCfg:                        tlsConfig(brokerURL),
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		ConnectUsername:               t.cfg.Username,
		ConnectPassword:               []byte(t.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			t.logger.Info("mqtt connected to broker", "broker", t.cfg.Broker)
			t.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			t.logger.Warn("mqtt connection error", "broker", t.cfg.Broker, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: t.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					handler(DeviceFromTopic(pr.Packet.Topic), pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				t.logger.Warn("mqtt client error", "error", err)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	t.mu.Lock()
	t.cm = cm
	t.mu.Unlock()
	return nil
}

func (t *v5Transport) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	topic := ReportTopic(t.cfg.Serial)
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 0}},
	}); err != nil {
		t.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
		return
	}
	t.logger.Debug("mqtt subscribed", "topic", topic)

	request := RequestTopic(t.cfg.Serial)
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   request,
		Payload: pushAllRequest(),
		QoS:     0,
	}); err != nil {
		t.logger.Warn("mqtt pushall request failed", "topic", request, "error", err)
		return
	}
	t.logger.Debug("mqtt pushall requested", "topic", request)
}

// Disconnect implements [Transport].
func (t *v5Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cm := t.cm
	t.mu.Unlock()

	if cm == nil {
		return errNotConnected
	}
	return cm.Disconnect(ctx)
}
