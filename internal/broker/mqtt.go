package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"espvote/internal/codec"
	"espvote/internal/logs"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// MQTT — Transport поверх paho. Подписки запоминаются и восстанавливаются после
// переподключения. Колбэки выполняются конкурентно (OrderMatters=false).
type MQTT struct {
	opts   Options
	client mqtt.Client
	log    *logrus.Entry

	mu   sync.RWMutex
	subs map[string]Handler
}

func NewMQTT(o Options) *MQTT {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	c := &MQTT{
		opts: o,
		subs: make(map[string]Handler),
		log:  logs.Logger.WithField("component", "mqtt"),
	}

	co := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetKeepAlive(o.KeepAlive).
		SetConnectTimeout(o.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.WithError(err).Warn("connection lost, reconnecting")
		})
	if o.Username != "" {
		co.SetUsername(o.Username)
		co.SetPassword(o.Password)
	}
	c.client = mqtt.NewClient(co)
	return c
}

// Connect ждёт первого подключения не дольше ConnectTimeout.
func (c *MQTT) Connect(ctx context.Context) error {
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.opts.BrokerURL, err)
	}
	return nil
}

func (c *MQTT) Close() {
	c.client.Disconnect(250)
}

// Ping — для /readyz.
func (c *MQTT) Ping(context.Context) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

func (c *MQTT) Publish(ctx context.Context, msg codec.Message) error {
	if err := c.wait(ctx, c.client.Publish(msg.Topic, c.opts.QoS, false, msg.Payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (c *MQTT) Subscribe(ctx context.Context, filter string, h Handler) error {
	c.mu.Lock()
	c.subs[filter] = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// подпишемся в onConnect
		return nil
	}
	if err := c.wait(ctx, c.client.Subscribe(filter, c.opts.QoS, c.callback(h))); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	return nil
}

func (c *MQTT) Unsubscribe(ctx context.Context, filters ...string) error {
	c.mu.Lock()
	for _, f := range filters {
		delete(c.subs, f)
	}
	c.mu.Unlock()

	if len(filters) == 0 || !c.client.IsConnectionOpen() {
		return nil
	}
	if err := c.wait(ctx, c.client.Unsubscribe(filters...)); err != nil {
		return fmt.Errorf("mqtt unsubscribe: %w", err)
	}
	return nil
}

func (c *MQTT) callback(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		h(context.Background(), m.Topic(), m.Payload())
	}
}

// onConnect восстанавливает подписки (CleanSession=true, брокер их не помнит).
func (c *MQTT) onConnect(cl mqtt.Client) {
	c.mu.RLock()
	handlers := make(map[string]Handler, len(c.subs))
	for f, h := range c.subs {
		handlers[f] = h
	}
	c.mu.RUnlock()

	c.log.WithField("subscriptions", len(handlers)).Info("connected")
	for f, h := range handlers {
		tok := cl.Subscribe(f, c.opts.QoS, c.callback(h))
		go func(f string, tok mqtt.Token) {
			if tok.WaitTimeout(c.opts.ConnectTimeout) && tok.Error() != nil {
				c.log.WithError(tok.Error()).WithField("filter", f).Error("resubscribe failed")
			}
		}(f, tok)
	}
}

func (c *MQTT) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", c.opts.ConnectTimeout)
	}
}
