// Package tele forwards accepted telemetry samples to MQTT broker.
// Samples are persisted in local queue first, so broker or network outage only delays delivery.
package tele

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/log2"
	tele_config "github.com/temoto/mtq-tester/tele/config"
	"github.com/temoto/mtq-tester/telemetry"
	"github.com/temoto/spq"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultRetryDelay     = time.Second
	DefaultTopicPrefix    = "mtq"

	retryMaxFactor = 32
)

// Uplink contract:
// - Init() fails only with invalid config or queue storage, network issues ignored
// - Sample() blocks at most for disk write
// - samples delivered at least once, in order while broker is reachable
// - disabled Uplink accepts and drops everything
type Uplink struct {
	enabled   bool
	log       *log2.Log
	transport Transporter
	q         *spq.Queue
	alive     *alive.Alive
	closeOnce sync.Once
	backoff   helpers.Backoff

	queued  uint64
	sent    uint64
	retries uint64
}

type Stat struct {
	Queued  uint64
	Sent    uint64
	Retries uint64
}

func (self *Uplink) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.enabled = teleConfig.Enabled
	self.log = log.Clone(log2.LInfo)
	if teleConfig.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.enabled {
		return nil
	}
	if teleConfig.MqttBroker == "" {
		return errors.NotValidf("tele enabled with mqtt_broker=empty")
	}
	if teleConfig.PersistPath == "" {
		return errors.NotValidf("tele enabled with persist_path=empty")
	}
	if teleConfig.ClientID == "" {
		teleConfig.ClientID = defaultClientID()
	}
	if teleConfig.TopicPrefix == "" {
		teleConfig.TopicPrefix = DefaultTopicPrefix
	}
	retryDelay := helpers.IntMillisecondDefault(teleConfig.RetryDelayMs, DefaultRetryDelay)
	self.backoff = helpers.Backoff{Min: retryDelay, Max: retryDelay * retryMaxFactor, K: 2}

	var err error
	self.q, err = spq.Open(teleConfig.PersistPath)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}

	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	willPayload := []byte{byte(StateDisconnected)}
	if err = self.transport.Init(ctx, self.log, teleConfig, willPayload); err != nil {
		_ = self.q.Close()
		return errors.Annotate(err, "tele transport")
	}

	self.alive = alive.NewAlive()
	self.alive.Add(1)
	go self.qworker()
	self.log.Debugf("tele init broker=%s prefix=%s", teleConfig.MqttBroker, teleConfig.TopicPrefix)
	return nil
}

func (self *Uplink) Enabled() bool { return self.enabled }

// Sample implements session.Sink.
func (self *Uplink) Sample(device string, s telemetry.Sample) error {
	if !self.enabled {
		return nil
	}
	b, err := proto.Marshal(NewSample(device, s))
	if err != nil {
		return errors.Annotate(err, "tele marshal")
	}
	if err = self.q.Push(b); err != nil {
		return errors.Annotate(err, "tele queue push")
	}
	atomic.AddUint64(&self.queued, 1)
	return nil
}

// Close stops delivery. Undelivered samples stay in queue for next run. Idempotent.
func (self *Uplink) Close() {
	if !self.enabled || self.alive == nil {
		return
	}
	self.closeOnce.Do(func() {
		self.alive.Stop()
		_ = self.q.Close()
		self.alive.Wait()
		self.transport.SendState([]byte{byte(StateDisconnected)})
		self.transport.Close()
	})
}

func (self *Uplink) Stat() Stat {
	return Stat{
		Queued:  atomic.LoadUint64(&self.queued),
		Sent:    atomic.LoadUint64(&self.sent),
		Retries: atomic.LoadUint64(&self.retries),
	}
}

func (self *Uplink) qworker() {
	defer self.alive.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			if self.qsend(b) {
				self.backoff.Reset()
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele queue delete b=%x err=%v", b, err)
				}
				continue
			}
			atomic.AddUint64(&self.retries, 1)
			if err = self.q.DeletePush(box); err != nil {
				self.log.Errorf("tele queue requeue b=%x err=%v", b, err)
			}
			delay := self.backoff.DelayAfter(false)
			self.log.Debugf("tele send failed, retry after %v", delay)
			select {
			case <-time.After(delay):
			case <-self.alive.StopChan():
				return
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Errorf("CRITICAL tele queue closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele queue err=%v", err)
			select {
			case <-time.After(self.backoff.Min):
			case <-self.alive.StopChan():
				return
			}
		}
	}
}

func (self *Uplink) qsend(b []byte) bool {
	if len(b) == 0 {
		self.log.Errorf("tele queue peek=empty")
		return true // retry will not help
	}
	var s Sample
	if err := proto.Unmarshal(b, &s); err != nil {
		self.log.Errorf("CRITICAL tele queue item b=%x err=%v", b, err)
		return true // retry will not help
	}
	if !self.transport.SendTelemetry(b) {
		return false
	}
	atomic.AddUint64(&self.sent, 1)
	return true
}
