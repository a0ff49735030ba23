package bambu

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/amswatch/internal/config"
)

// errNotConnected is returned by Disconnect when Connect never
// produced a client.
var errNotConnected = errors.New("mqtt client not connected")

// MessageHandler receives every message on the report topic. deviceID
// is the serial parsed from the topic. It is called from the
// transport's own goroutine and must not block.
type MessageHandler func(deviceID string, payload []byte)

// Transport is a broker connection scoped to one printer.
type Transport interface {
	// Connect starts connecting in the background and returns once the
	// attempt is under way. Connection failures are logged by the
	// transport; to the caller they look like a printer that never
	// reports.
	Connect(ctx context.Context, handler MessageHandler) error
	// Disconnect closes the connection. It is safe to call after a
	// failed or unfinished Connect.
	Disconnect(ctx context.Context) error
}

// TransportConfig holds what a transport needs to reach one printer.
type TransportConfig struct {
	Broker   string
	Username string
	Password string
	Serial   string
	ClientID string
}

// NewTransportConfig derives a TransportConfig from the Bambu section
// of the application config. Each call gets a fresh client ID.
func NewTransportConfig(cfg config.BambuConfig) TransportConfig {
	return TransportConfig{
		Broker:   cfg.BrokerURL(),
		Username: cfg.Username(),
		Password: cfg.Token,
		Serial:   cfg.Serial,
		ClientID: NewClientID(),
	}
}

// NewTransport returns the transport for protocol, which must be
// [config.ProtocolV311] or [config.ProtocolV5].
func NewTransport(protocol string, cfg TransportConfig, logger *slog.Logger) (Transport, error) {
	switch protocol {
	case config.ProtocolV311, "":
		return newV311Transport(cfg, logger), nil
	case config.ProtocolV5:
		return newV5Transport(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mqtt protocol %q", protocol)
	}
}

// NewClientID returns a unique MQTT client identifier. The broker
// drops an existing session when a second client connects with the
// same ID, so each run gets its own.
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "amswatch-" + id[:12]
}

// --- Topic helpers ---

// ReportTopic is where a printer publishes its status.
func ReportTopic(serial string) string {
	return "device/" + serial + "/report"
}

// RequestTopic is where a printer accepts commands.
func RequestTopic(serial string) string {
	return "device/" + serial + "/request"
}

// DeviceFromTopic extracts the serial from a device/<serial>/... topic.
// It returns "" for any other shape.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "device" {
		return ""
	}
	return parts[1]
}

type pushingCommand struct {
	SequenceID string `json:"sequence_id"`
	Command    string `json:"command"`
}

// pushAllRequest asks the printer for a full status report.
func pushAllRequest() []byte {
	payload, _ := json.Marshal(map[string]pushingCommand{
		"pushing": {SequenceID: "0", Command: "pushall"},
	})
	return payload
}

// tlsConfig returns a TLS config for encrypted schemes and nil for
// plain TCP.
func tlsConfig(u *url.URL) *tls.Config {
	switch u.Scheme {
	case "mqtts", "ssl", "tls", "tcps":
		return &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: u.Hostname(),
		}
	default:
		return nil
	}
}
