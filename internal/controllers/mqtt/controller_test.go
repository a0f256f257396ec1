package mqttctrl

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/testutil"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done chan struct{}
}

func (t fakeToken) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
		close(t.done)
	}
	return t.done
}

func (t fakeToken) Wait() bool                       { return true }
func (t fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t fakeToken) Error() error                     { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	publishes []publishCall
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(_ uint)      {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		tmp, _ := json.Marshal(v)
		b = tmp
	}
	c.publishes = append(c.publishes, publishCall{
		topic: topic, qos: qos, retain: retained, payload: b,
	})
	return fakeToken{}
}
func (c *fakeClient) Subscribe(_ string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(_ ...string) mqtt.Token       { return fakeToken{} }
func (c *fakeClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

// ---- tests ----

func newTestController(t *testing.T) (*Controller, *testutil.FakeVentilationService, *fakeClient) {
	t.Helper()
	svc := testutil.NewFakeVentilationService()
	c, err := New(svc, Config{DeviceID: "unit-1", RetainSnapshot: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	fc := &fakeClient{}
	c.client = fc
	return c, svc, fc
}

func TestNewDefaults(t *testing.T) {
	c, err := New(testutil.NewFakeVentilationService(), Config{DeviceID: "unit-1"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if c.cfg.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("expected default BrokerURL, got %q", c.cfg.BrokerURL)
	}
	if c.cfg.BaseTopic != "easycontrols/unit-1" {
		t.Fatalf("expected default BaseTopic, got %q", c.cfg.BaseTopic)
	}
	if c.cfg.ClientID != "easycontrols-unit-1" {
		t.Fatalf("expected default ClientID, got %q", c.cfg.ClientID)
	}
	if c.cfg.PublishInterval != 5*time.Second || c.cfg.CommandTimeout != 30*time.Second {
		t.Fatalf("expected default intervals, got %v %v", c.cfg.PublishInterval, c.cfg.CommandTimeout)
	}
}

func TestNewValidation(t *testing.T) {
	svc := testutil.NewFakeVentilationService()

	if _, err := New(svc, Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error when DeviceID missing")
	}
	if _, err := New(svc, Config{DeviceID: "x", QoS: 2}, zerolog.Nop()); err == nil {
		t.Fatal("expected error when QoS > 1")
	}
}

func TestTopicJoin(t *testing.T) {
	c, err := New(testutil.NewFakeVentilationService(), Config{DeviceID: "unit-1", BaseTopic: "home/kwl/"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := c.topic("snapshot"); got != "home/kwl/snapshot" {
		t.Fatalf("expected topic without double slashes, got %q", got)
	}
}

func TestDecodeValueStrict(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, err := decodeValueStrict[int]([]byte(`{"value": 75}`))
		if err != nil {
			t.Fatal(err)
		}
		if v != 75 {
			t.Fatalf("expected 75, got %v", v)
		}
	})

	t.Run("missing value", func(t *testing.T) {
		if _, err := decodeValueStrict[int]([]byte(`{}`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		if _, err := decodeValueStrict[string]([]byte(`{"value":"party","extra":1}`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := decodeValueStrict[string]([]byte(`{"value":`)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestOnMessage_IgnoresWrongPrefix(t *testing.T) {
	c, svc, _ := newTestController(t)

	c.onMessage(nil, fakeMessage{
		topic:   "otherprefix/set/fan_stage",
		payload: []byte(`{"value":"maximum"}`),
	})

	if len(svc.Calls) != 0 {
		t.Fatalf("expected no service call, got %+v", svc.Calls)
	}
}

func TestOnMessage_Set(t *testing.T) {
	c, svc, fc := newTestController(t)

	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/set/fan_stage", payload: []byte(`{"value":"maximum"}`)})
	if call := svc.LastCall(); call.Name != "set_speed" || call.Stage != ventilation.StageMaximum {
		t.Fatalf("expected SetSpeed(maximum), got %+v", call)
	}

	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/set/percentage", payload: []byte(`{"value":25}`)})
	if call := svc.LastCall(); call.Name != "set_percentage" || *call.Pct != 25 {
		t.Fatalf("expected SetPercentage(25), got %+v", call)
	}

	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/set/preset", payload: []byte(`{"value":"standby"}`)})
	if call := svc.LastCall(); call.Name != "set_preset" || *call.Preset != ventilation.PresetStandby {
		t.Fatalf("expected SetPreset(standby), got %+v", call)
	}

	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/set/" + catalog.PartyModeDuration, payload: []byte(`{"value":90}`)})
	if svc.Vars[catalog.PartyModeDuration] != transcode.Int(90) {
		t.Fatalf("expected party duration set, got %v", svc.Vars)
	}

	if len(fc.publishes) != 0 {
		t.Fatalf("unexpected publishes %+v", fc.publishes)
	}
}

func TestOnMessage_Service(t *testing.T) {
	c, svc, _ := newTestController(t)

	c.onMessage(nil, fakeMessage{
		topic:   "easycontrols/unit-1/service/start_party_mode",
		payload: []byte(`{"speed":"intensive","duration":20}`),
	})
	call := svc.LastCall()
	if call.Name != "start_party_mode" || call.Speed == nil || *call.Speed != ventilation.StageIntensive || call.Duration != 20*time.Minute {
		t.Fatalf("unexpected call %+v", call)
	}

	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/service/turn_off"})
	if svc.LastCall().Name != "turn_off" {
		t.Fatalf("expected turn_off, got %+v", svc.LastCall())
	}
}

func TestOnMessage_PublishesErrors(t *testing.T) {
	c, svc, fc := newTestController(t)

	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/set/" + catalog.TemperatureOutsideAir, payload: []byte(`{"value":3}`)})
	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/service/warp_drive"})

	svc.Err = errors.New("device unreachable")
	c.onMessage(nil, fakeMessage{topic: "easycontrols/unit-1/service/turn_off"})

	if len(fc.publishes) != 3 {
		t.Fatalf("expected 3 error publishes, got %d", len(fc.publishes))
	}
	for _, p := range fc.publishes {
		if p.topic != "easycontrols/unit-1/error" || p.retain {
			t.Fatalf("unexpected publish %+v", p)
		}
		var body errorDTO
		if err := json.Unmarshal(p.payload, &body); err != nil || body.Error == "" {
			t.Fatalf("bad error payload %s", p.payload)
		}
	}
}

func TestPublishIfChanged(t *testing.T) {
	c, svc, fc := newTestController(t)

	if !c.publishIfChanged() {
		t.Fatal("first snapshot must be published")
	}
	if c.publishIfChanged() {
		t.Fatal("unchanged snapshot republished")
	}

	next := testutil.SampleSnapshot()
	svc.SetSnapshot(controls.NewSnapshot(next.TakenAt().Add(time.Minute), map[string]controls.Reading{
		catalog.FanStage: {Value: transcode.Stage(ventilation.StageMaximum)},
	}))
	if !c.publishIfChanged() {
		t.Fatal("changed snapshot not published")
	}

	if len(fc.publishes) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(fc.publishes))
	}
	p := fc.publishes[0]
	if p.topic != "easycontrols/unit-1/snapshot" || !p.retain {
		t.Fatalf("unexpected publish %+v", p)
	}
	var body map[string]any
	if err := json.Unmarshal(p.payload, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["taken_at"]; ok {
		t.Fatalf("taken_at must not be published: %s", p.payload)
	}
}
