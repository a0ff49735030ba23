package bambu

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/nugget/amswatch/internal/config"
)

func TestTopicPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"report", ReportTopic("01P00A123456789"), "device/01P00A123456789/report"},
		{"request", RequestTopic("01P00A123456789"), "device/01P00A123456789/request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"device/01P00A123456789/report", "01P00A123456789"},
		{"device/X/request", "X"},
		{"device/X", ""},
		{"frigate/events", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := DeviceFromTopic(tt.topic); got != tt.want {
				t.Errorf("DeviceFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestPushAllRequest(t *testing.T) {
	var req struct {
		Pushing struct {
			SequenceID string `json:"sequence_id"`
			Command    string `json:"command"`
		} `json:"pushing"`
	}
	if err := json.Unmarshal(pushAllRequest(), &req); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if req.Pushing.Command != "pushall" {
		t.Errorf("command = %q, want %q", req.Pushing.Command, "pushall")
	}
	if req.Pushing.SequenceID != "0" {
		t.Errorf("sequence_id = %q, want %q", req.Pushing.SequenceID, "0")
	}
}

func TestTLSConfig(t *testing.T) {
	tests := []struct {
		broker  string
		wantTLS bool
	}{
		{"mqtts://us.mqtt.bambulab.com:8883", true},
		{"ssl://broker:8883", true},
		{"tls://broker:8883", true},
		{"mqtt://localhost:1883", false},
		{"tcp://localhost:1883", false},
	}

	for _, tt := range tests {
		t.Run(tt.broker, func(t *testing.T) {
			u, err := url.Parse(tt.broker)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			cfg := tlsConfig(u)
			if (cfg != nil) != tt.wantTLS {
				t.Fatalf("tlsConfig(%q) = %v, wantTLS %v", tt.broker, cfg, tt.wantTLS)
			}
			if cfg != nil && cfg.ServerName != u.Hostname() {
				t.Errorf("ServerName = %q, want %q", cfg.ServerName, u.Hostname())
			}
		})
	}
}

func TestV311BrokerAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mqtts://us.mqtt.bambulab.com:8883", "ssl://us.mqtt.bambulab.com:8883"},
		{"mqtt://localhost:1883", "tcp://localhost:1883"},
		{"ssl://broker:8883", "ssl://broker:8883"},
	}

	for _, tt := range tests {
		u, _ := url.Parse(tt.in)
		if got := v311BrokerAddr(u); got != tt.want {
			t.Errorf("v311BrokerAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewClientID(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	if !strings.HasPrefix(a, "amswatch-") {
		t.Errorf("NewClientID() = %q, want amswatch- prefix", a)
	}
	if len(a) != len("amswatch-")+12 {
		t.Errorf("NewClientID() = %q, unexpected length %d", a, len(a))
	}
	if a == b {
		t.Errorf("NewClientID() returned %q twice", a)
	}
}

func TestNewTransportConfig(t *testing.T) {
	tc := NewTransportConfig(config.BambuConfig{
		Region: "us",
		Token:  "tok",
		UID:    "42",
		Serial: "SERIAL1",
	})

	if tc.Broker != "mqtts://us.mqtt.bambulab.com:8883" {
		t.Errorf("Broker = %q", tc.Broker)
	}
	if tc.Username != "u_42" || tc.Password != "tok" || tc.Serial != "SERIAL1" {
		t.Errorf("TransportConfig = %+v", tc)
	}
	if tc.ClientID == "" {
		t.Error("ClientID should be set")
	}
}

func TestNewTransport_Protocol(t *testing.T) {
	cfg := TransportConfig{Broker: "mqtt://localhost:1883", Serial: "S"}

	tr, err := NewTransport(config.ProtocolV311, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewTransport(3.1.1) error: %v", err)
	}
	if _, ok := tr.(*v311Transport); !ok {
		t.Errorf("NewTransport(3.1.1) = %T, want *v311Transport", tr)
	}

	tr, err = NewTransport(config.ProtocolV5, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewTransport(5) error: %v", err)
	}
	if _, ok := tr.(*v5Transport); !ok {
		t.Errorf("NewTransport(5) = %T, want *v5Transport", tr)
	}

	if _, err := NewTransport("4", cfg, discardLogger()); err == nil {
		t.Error("NewTransport(4) should error")
	}
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	cfg := TransportConfig{Broker: "mqtt://localhost:1883", Serial: "S"}

	for _, tr := range []Transport{newV311Transport(cfg, discardLogger()), newV5Transport(cfg, discardLogger())} {
		if err := tr.Disconnect(t.Context()); err != errNotConnected {
			t.Errorf("%T.Disconnect() before Connect = %v, want errNotConnected", tr, err)
		}
	}
}

func TestConnect_BadBrokerURL(t *testing.T) {
	cfg := TransportConfig{Broker: "://nope", Serial: "S"}

	for _, tr := range []Transport{newV311Transport(cfg, discardLogger()), newV5Transport(cfg, discardLogger())} {
		if err := tr.Connect(t.Context(), func(string, []byte) {}); err == nil {
			t.Errorf("%T.Connect() with bad URL should error", tr)
		}
	}
}
