package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/controllers/api"
	"github.com/Agrid-Dev/easycontrols/internal/ports"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

type Config struct {
	// Identity
	DeviceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration
	CommandTimeout  time.Duration

	Username string
	Password string
}

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

type Controller struct {
	svc    ports.VentilationService
	cfg    Config
	logger zerolog.Logger

	client mqtt.Client
	ctx    context.Context
	cmds   chan mqtt.Message
	last   []byte
}

func New(svc ports.VentilationService, cfg Config, logger zerolog.Logger) (*Controller, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "easycontrols/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "easycontrols-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 5 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Controller{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With().Str("component", "mqtt").Logger(),
		ctx:    context.Background(),
		cmds:   make(chan mqtt.Message, 16),
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx

	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2*time.Second).
		SetWill(c.topic("status"), statusOffline, c.cfg.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn().Err(err).Msg("mqtt connection lost")
		})

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Runs again after every reconnect.
	opts.OnConnect = func(cl mqtt.Client) {
		cl.Publish(c.topic("status"), c.cfg.QoS, true, statusOnline)
		filters := map[string]byte{
			c.topic("set/+"):     c.cfg.QoS,
			c.topic("service/+"): c.cfg.QoS,
		}
		token := cl.SubscribeMultiple(filters, c.enqueue)
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error().Err(err).Msg("subscribe failed")
		}
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.logger.Info().Str("broker", c.cfg.BrokerURL).Str("base_topic", c.cfg.BaseTopic).Msg("mqtt connected")

	// Commands run one at a time off the paho router so a slow device
	// does not stall the connection.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.cmds:
				c.onMessage(c.client, msg)
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	c.publishIfChanged()

	for {
		select {
		case <-ctx.Done():
			c.client.Publish(c.topic("status"), c.cfg.QoS, true, statusOffline).WaitTimeout(time.Second)
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			c.publishIfChanged()
		}
	}
}

// publishIfChanged publishes the snapshot unless it renders the same as
// the last one published. The refresh time is left out of the comparison.
func (c *Controller) publishIfChanged() bool {
	dto := api.NewSnapshot(c.svc)
	dto.TakenAt = nil
	b, err := json.Marshal(dto)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode snapshot")
		return false
	}
	if c.last != nil && bytes.Equal(b, c.last) {
		return false
	}
	c.client.Publish(c.topic("snapshot"), c.cfg.QoS, c.cfg.RetainSnapshot, b)
	c.last = b
	return true
}

func (c *Controller) enqueue(_ mqtt.Client, msg mqtt.Message) {
	select {
	case c.cmds <- msg:
	default:
		c.logger.Warn().Str("topic", msg.Topic()).Msg("command queue full, dropping")
		c.publishError(msg.Topic(), errors.New("command queue full"))
	}
}

// Payload of set commands: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	t := msg.Topic()
	base := strings.TrimRight(c.cfg.BaseTopic, "/") + "/"
	if !strings.HasPrefix(t, base) {
		return
	}
	kind, name, ok := strings.Cut(strings.TrimPrefix(t, base), "/")
	if !ok || name == "" {
		return
	}

	ctx, cancel := c.commandContext()
	defer cancel()

	var err error
	switch kind {
	case "set":
		err = c.set(ctx, name, msg.Payload())
	case "service":
		var args api.ServiceArgs
		if args, err = api.DecodeArgs(msg.Payload()); err == nil {
			err = api.Call(ctx, c.svc, name, args)
		}
	default:
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Str("topic", t).Msg("command failed")
		c.publishError(t, err)
		return
	}
	c.logger.Debug().Str("topic", t).Msg("command applied")
}

// set handles <base>/set/<field>. Fan fields have dedicated operations,
// anything else is written as a device variable.
func (c *Controller) set(ctx context.Context, field string, payload []byte) error {
	switch field {
	case "fan_stage":
		v, err := decodeValueStrict[api.Stage](payload)
		if err != nil {
			return err
		}
		return c.svc.SetSpeed(ctx, ventilation.Stage(v))

	case "percentage":
		v, err := decodeValueStrict[int](payload)
		if err != nil {
			return err
		}
		return c.svc.SetPercentage(ctx, v)

	case "preset":
		v, err := decodeValueStrict[api.Preset](payload)
		if err != nil {
			return err
		}
		return c.svc.SetPreset(ctx, ventilation.Preset(v))

	default:
		v, err := decodeValueStrict[any](payload)
		if err != nil {
			return err
		}
		return c.svc.SetVariable(ctx, field, v)
	}
}

func (c *Controller) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.cfg.CommandTimeout)
}

type errorDTO struct {
	Topic string `json:"topic"`
	Error string `json:"error"`
}

func (c *Controller) publishError(topic string, err error) {
	if c.client == nil {
		return
	}
	b, _ := json.Marshal(errorDTO{Topic: topic, Error: err.Error()})
	c.client.Publish(c.topic("error"), c.cfg.QoS, false, b)
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
