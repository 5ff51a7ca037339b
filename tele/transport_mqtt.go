package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/log2"
	tele_config "github.com/temoto/mtq-tester/tele/config"
)

type transportMqtt struct {
	log            *log2.Log
	m              mqtt.Client
	mopt           *mqtt.ClientOptions
	alive          *alive.Alive
	networkTimeout time.Duration

	topicState     string
	topicTelemetry string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error {
	self.log = log
	mqttLog := log.Clone(log2.LDebug)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if teleConfig.MqttLogDebug {
		mqtt.DEBUG = mqttLog
	}

	clientID := teleConfig.ClientID
	credFun := func() (string, string) {
		return clientID, teleConfig.MqttPassword
	}
	self.topicState = teleConfig.TopicPrefix + "/c"
	self.topicTelemetry = teleConfig.TopicPrefix + "/telemetry"

	self.networkTimeout = helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)
	connectTimeout := self.networkTimeout * 3
	keepaliveTimeout := helpers.IntSecondDefault(teleConfig.KeepaliveSec, self.networkTimeout/2)

	tlsconf := new(tls.Config)
	if teleConfig.TlsCaFile != "" {
		cabytes, err := ioutil.ReadFile(teleConfig.TlsCaFile)
		if err != nil {
			return errors.Annotate(err, "tele tls_ca_file")
		}
		tlsconf.RootCAs = x509.NewCertPool()
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return errors.NotValidf("tele tls_ca_file=%s no certificates", teleConfig.TlsCaFile)
		}
	}
	self.mopt = mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicState, willPayload, 1, true).
		SetCleanSession(false).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetOrderMatters(false).
		SetPingTimeout(self.networkTimeout).
		SetTLSConfig(tlsconf).
		SetWriteTimeout(self.networkTimeout)
	self.m = mqtt.NewClient(self.mopt)
	self.alive = alive.NewAlive()

	go self.online(ctx)
	return nil
}

func (self *transportMqtt) Close() {
	self.alive.Stop()
	if self.m.IsConnected() {
		self.m.Disconnect(uint(self.networkTimeout / time.Millisecond))
	}
}

func (self *transportMqtt) SendState(payload []byte) bool {
	t := self.m.Publish(self.topicState, 1, true, payload)
	err := self.tokenWait(t, "publish state")
	self.log.Debugf("tele sendstate payload=%x err=%v", payload, err)
	return err == nil
}

func (self *transportMqtt) SendTelemetry(payload []byte) bool {
	if !self.m.IsConnectionOpen() {
		return false
	}
	t := self.m.Publish(self.topicTelemetry, 1, false, payload)
	return self.tokenWait(t, "publish telemetry") == nil
}

func (self *transportMqtt) online(ctx context.Context) {
	for self.alive.IsRunning() {
		self.log.Debugf("tele connect broker=%v", self.mopt.Servers)
		t := self.m.Connect()
		if self.tokenWait(t, "connect") == nil {
			break // success path
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		case <-self.alive.StopChan():
			return
		}
	}
	if self.alive.IsRunning() {
		self.SendState([]byte{byte(StateOnline)})
	}
}

func (self *transportMqtt) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.networkTimeout) {
		err := errors.Timeoutf("tele mqtt %s", tag)
		self.log.Error(err)
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		self.log.Errorf("tele mqtt %s", err.Error())
		return err
	}
	return nil
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "mtq-" + host
}
