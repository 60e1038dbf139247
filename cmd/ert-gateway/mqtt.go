package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/charmbracelet/log"
)

// mqttSink republishes decoded radio packets and status documents to an
// MQTT broker, grounded on the teacher's own cmd/mqttradio mq type. The
// reflection-based internal subscription forwarding that type used to
// route messages to other in-process modules is dropped: this repository
// has nothing in-process left to forward to once the packet reaches here,
// so publishing straight to the broker is all that is needed.
type mqttSink struct {
	conn   mqtt.Client
	prefix string
}

func newMQTTSink(host string, port int, clientID, user, password, topicPrefix string) (*mqttSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.ClientID = clientID
	opts.Username = user
	opts.Password = password
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "err", err)
	}

	conn := mqtt.NewClient(opts)
	token := conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("ert-gateway: mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("ert-gateway: mqtt connect: %w", err)
	}
	return &mqttSink{conn: conn, prefix: topicPrefix}, nil
}

// publish marshals payload as JSON and publishes it under prefix/subtopic
// at QoS 1, matching the teacher's own Publish call.
func (m *mqttSink) publish(subtopic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("mqtt marshal failed", "topic", subtopic, "err", err)
		return
	}
	topic := fmt.Sprintf("%s/%s", m.prefix, subtopic)
	token := m.conn.Publish(topic, 1, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warn("mqtt publish failed", "topic", topic, "err", token.Error())
		}
	}()
}

func (m *mqttSink) close() {
	m.conn.Disconnect(250)
}
