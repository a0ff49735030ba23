package bambu

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// v311Transport is an MQTT 3.1.1 [Transport].
type v311Transport struct {
	cfg    TransportConfig
	logger *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
}

func newV311Transport(cfg TransportConfig, logger *slog.Logger) *v311Transport {
	return &v311Transport{cfg: cfg, logger: logger}
}

// v311BrokerAddr rewrites schemes paho.mqtt.golang does not recognise
// into their equivalents.
func v311BrokerAddr(u *url.URL) string {
	addr := *u
	switch addr.Scheme {
	case "mqtts":
		addr.Scheme = "ssl"
	case "mqtt":
		addr.Scheme = "tcp"
	}
	return addr.String()
}

// Connect implements [Transport].
func (t *v311Transport) Connect(ctx context.Context, handler MessageHandler) error {
	brokerURL, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(v311BrokerAddr(brokerURL))
	opts.SetClientID(t.cfg.ClientID)
	opts.SetUsername(t.cfg.Username)
	opts.SetPassword(t.cfg.Password)
	if tlsCfg := tlsConfig(brokerURL); tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		t.logger.Info("mqtt connected to broker", "broker", t.cfg.Broker)
		t.subscribe(c, handler)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	go func() {
		select {
		case <-token.Done():
		case <-ctx.Done():
			return
		}
		if err := token.Error(); err != nil {
			t.logger.Warn("mqtt connection error", "broker", t.cfg.Broker, "error", err)
		}
	}()

	return nil
}

// subscribe runs on paho's connect goroutine, so waiting on tokens
// here does not stall the network loop.
func (t *v311Transport) subscribe(c mqtt.Client, handler MessageHandler) {
	topic := ReportTopic(t.cfg.Serial)
	sub := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(DeviceFromTopic(msg.Topic()), msg.Payload())
	})
	if !sub.WaitTimeout(10*time.Second) || sub.Error() != nil {
		t.logger.Warn("mqtt subscribe failed", "topic", topic, "error", sub.Error())
		return
	}
	t.logger.Debug("mqtt subscribed", "topic", topic)

	request := RequestTopic(t.cfg.Serial)
	pub := c.Publish(request, 0, false, pushAllRequest())
	if !pub.WaitTimeout(10*time.Second) || pub.Error() != nil {
		t.logger.Warn("mqtt pushall request failed", "topic", request, "error", pub.Error())
		return
	}
	t.logger.Debug("mqtt pushall requested", "topic", request)
}

// Disconnect implements [Transport]. The quiesce period is bounded by
// ctx's deadline, capped at 250ms.
func (t *v311Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil {
		return errNotConnected
	}

	quiesce := 250 * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < quiesce {
			quiesce = max(left, 0)
		}
	}

	wasOpen := client.IsConnectionOpen()
	client.Disconnect(uint(quiesce.Milliseconds()))
	if !wasOpen {
		return errNotConnected
	}
	return nil
}
