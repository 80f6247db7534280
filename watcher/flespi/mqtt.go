package flespi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/clock"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

const resolveRetryInterval = time.Second

// Resolver maps a device ident to the provider's device.
type Resolver interface {
	Resolve(ident string) (car.Device, bool)
}

// MQTTSource streams device messages from the flespi MQTT broker. Every message
// becomes a record; a slow consumer only ever sees the newest one.
type MQTTSource struct {
	broker   *url.URL
	token    string
	clientID string
	resolver Resolver
	clock    clock.Clock
}

func NewMQTTSource(broker, token, clientID string, resolver Resolver) (*MQTTSource, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse broker URL")
	}
	if clientID == "" {
		clientID = "doorguard"
	}
	return &MQTTSource{
		broker:   u,
		token:    token,
		clientID: clientID,
		resolver: resolver,
		clock:    clock.NewReal(),
	}, nil
}

func messageTopic(d car.Device) string {
	return fmt.Sprintf("flespi/message/gw/devices/%d", d.ID)
}

// Records connects once the device is resolved and delivers its messages until ctx
// is done. The channel is closed after the connection is torn down.
func (s *MQTTSource) Records(ctx context.Context, ident string) (<-chan rules.TelemetryRecord, error) {
	out := make(chan rules.TelemetryRecord, 1)
	go func() {
		defer close(out)
		d, ok := s.awaitDevice(ctx, ident)
		if !ok {
			return
		}
		s.stream(ctx, d, out)
	}()
	return out, nil
}

func (s *MQTTSource) awaitDevice(ctx context.Context, ident string) (car.Device, bool) {
	ticker := time.NewTicker(resolveRetryInterval)
	defer ticker.Stop()
	for {
		if d, ok := s.resolver.Resolve(ident); ok {
			return d, true
		}
		glog.V(1).Infof("Waiting for device details of %s before subscribing", ident)
		select {
		case <-ctx.Done():
			return car.Device{}, false
		case <-ticker.C:
		}
	}
}

func (s *MQTTSource) stream(ctx context.Context, d car.Device, out chan rules.TelemetryRecord) {
	topic := messageTopic(d)
	var mu sync.Mutex
	closed := false

	onPublish := func(pr paho.PublishReceived) (bool, error) {
		rec, err := parseMessage(pr.Packet.Payload, d.Ident, clock.NowMs(s.clock))
		if err != nil {
			glog.Errorf("Failed to parse message on %s: %s", pr.Packet.Topic, err)
			return true, nil // Acknowledge message even if parse fails
		}
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			offer(out, rec)
		}
		return true, nil
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{s.broker},
		KeepAlive:                     60,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(5 * time.Second),
		ConnectUsername:               s.token,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			glog.Infof("MQTT connection up for %s", d)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
			}); err != nil {
				glog.Errorf("failed to subscribe (topic: %s): %s", topic, err)
			}
		},
		OnConnectError: func(err error) {
			glog.Errorf("Error whilst attempting MQTT connection for %s: %s", d, err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID:          fmt.Sprintf("%s-%s", s.clientID, d.Ident),
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){onPublish},
			OnClientError:     func(err error) { glog.Errorf("MQTT client error for %s: %s", d, err) },
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		glog.Errorf("failed to create MQTT connection for %s: %s", d, err)
		return
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = cm.Disconnect(shutdownCtx)

	mu.Lock()
	closed = true
	mu.Unlock()
}

// offer sends rec without blocking, replacing an unread older record.
func offer(out chan rules.TelemetryRecord, rec rules.TelemetryRecord) {
	select {
	case out <- rec:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- rec:
	default:
	}
}

// parseMessage converts a flespi device message into a record. Messages carry
// flat parameters; "timestamp" is in seconds.
func parseMessage(payload []byte, ident string, nowMs int64) (rules.TelemetryRecord, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return rules.TelemetryRecord{}, errors.Wrap(err, "invalid message payload")
	}
	if id, ok := raw["ident"].(string); ok && id != "" && id != ident {
		return rules.TelemetryRecord{}, errors.Errorf("message for %s received on the topic of %s", id, ident)
	}

	ts := nowMs
	for _, key := range []string{"timestamp", "server.timestamp"} {
		if v, ok := raw[key].(float64); ok && v > 0 {
			ts = int64(v * 1000)
			break
		}
	}
	signals, _ := rules.DecodeSignals(raw)
	return rules.NewRecord(ident, ts, signals), nil
}
