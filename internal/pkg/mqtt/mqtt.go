package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid"
)

type fn func(topic string, payload []byte)

type MqttClient struct {
	client mqtt.Client
}

func NewMQTTClient(addr, user, password string, insecureSkipVerify bool, connectHandler func(client mqtt.Client), connectionLostHandler func(client mqtt.Client, err error), reconnectHandler func(mqtt.Client, *mqtt.ClientOptions)) MqttClient {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(addr))
	opts.CleanSession = false
	var clientID string
	u, _ := uuid.NewV4()
	clientID = fmt.Sprintf("device-monitor-%s", u.String())
	opts.SetClientID(clientID)
	if user != "" {
		opts.SetUsername(user)
		opts.SetPassword(password)
	}
	opts.TLSConfig = &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
	}
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectionLostHandler
	opts.OnReconnecting = reconnectHandler
	opts.AutoReconnect = true
	client := mqtt.NewClient(opts)

	return MqttClient{
		client,
	}
}

// brokerURL maps the mqtt:// and mqtts:// schemes onto the ones paho dials.
func brokerURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "mqtts://"):
		return strings.Replace(addr, "mqtts://", "ssl://", 1)
	case strings.HasPrefix(addr, "mqtt://"):
		return strings.Replace(addr, "mqtt://", "tcp://", 1)
	}
	return addr
}

func (c MqttClient) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c MqttClient) Cleanup() {
	c.client.Disconnect(250)
}

func (c MqttClient) Subscribe(topic string, subscribeHandler fn) error {
	if token := c.client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		subscribeHandler(msg.Topic(), msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c MqttClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}
