package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

type MqttConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	KeepAlive   time.Duration
}

// Mqtt publishes events to `prefix/w/event` and accepts commands
// from `prefix/r/command`. Connection flag is retained at `prefix/c`.
type Mqtt struct {
	log       *log2.Log
	m         mqtt.Client
	onCommand CommandFunc

	topicConnect string
	topicEvent   string
	topicCommand string
}

const connectTimeout = 10 * time.Second

// NewClient is replaced in tests.
var NewClient = mqtt.NewClient

func NewMqtt(log *log2.Log, config MqttConfig, onCommand CommandFunc) *Mqtt {
	prefix := config.TopicPrefix
	if prefix == "" {
		prefix = config.ClientID
	}
	self := &Mqtt{
		log:          log,
		onCommand:    onCommand,
		topicConnect: fmt.Sprintf("%s/c", prefix),
		topicEvent:   fmt.Sprintf("%s/w/event", prefix),
		topicCommand: fmt.Sprintf("%s/r/command", prefix),
	}
	mqtt.ERROR = mqttLogger{log, log2.LError}
	mqtt.CRITICAL = mqttLogger{log, log2.LError}
	mqtt.WARN = mqttLogger{log, log2.LInfo}

	keepAlive := config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	opt := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetBinaryWill(self.topicConnect, []byte{0x00}, 1, true).
		SetCleanSession(false).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetKeepAlive(keepAlive).
		SetPingTimeout(keepAlive / 2).
		SetOrderMatters(false).
		SetResumeSubs(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = NewClient(opt)
	return self
}

// Connect waits for first connection, later losses reconnect automatically.
func (self *Mqtt) Connect() error {
	token := self.m.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Timeoutf("mqtt connect")
	}
	return errors.Annotate(token.Error(), "mqtt connect")
}

func (self *Mqtt) Close() {
	if token := self.m.Unsubscribe(self.topicCommand); token.WaitTimeout(time.Second) && token.Error() != nil {
		self.log.Errorf("mqtt unsubscribe err=%v", token.Error())
	}
	self.m.Publish(self.topicConnect, 1, true, []byte{0x00}).WaitTimeout(time.Second)
	self.m.Disconnect(250)
}

// Emit publishes at QoS 1 without waiting for ack.
func (self *Mqtt) Emit(e types.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		self.log.Error(errors.Annotatef(err, "mqtt emit %s", e.String()))
		return
	}
	self.m.Publish(self.topicEvent, 1, false, b)
}

func (self *Mqtt) messageHandler(c mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	msg.Ack()
	cmd, err := types.ParseCommand(payload)
	if err != nil {
		self.log.Errorf("mqtt command payload=%q err=%v", payload, err)
		return
	}
	self.log.Infof("mqtt %s", cmd.String())
	if err = self.onCommand(cmd); err != nil {
		self.log.Errorf("mqtt %s err=%v", cmd.String(), err)
	}
}

func (self *Mqtt) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("mqtt disconnect err=%v", err)
}

func (self *Mqtt) onConnectHandler(c mqtt.Client) {
	self.log.Infof("mqtt connect")
	if token := c.Subscribe(self.topicCommand, 1, self.messageHandler); token.Wait() && token.Error() != nil {
		self.log.Errorf("mqtt subscribe topic=%s err=%v", self.topicCommand, token.Error())
		return
	}
	c.Publish(self.topicConnect, 1, true, []byte{0x01})
}

type mqttLogger struct {
	log   *log2.Log
	level log2.Level
}

func (self mqttLogger) Println(v ...interface{}) {
	self.log.Log(self.level, "mqtt: "+fmt.Sprint(v...))
}
func (self mqttLogger) Printf(format string, v ...interface{}) {
	self.log.Logf(self.level, "mqtt: "+format, v...)
}
