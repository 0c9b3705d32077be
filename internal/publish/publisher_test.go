package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"elmdiag/internal/models"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeBroker records publishes instead of talking to a broker.
type fakeBroker struct {
	pahomqtt.Client

	mu           sync.Mutex
	opts         *pahomqtt.ClientOptions
	connectErr   error
	publishErr   error
	messages     []message
	disconnected bool
}

func (b *fakeBroker) Connect() pahomqtt.Token { return doneToken{err: b.connectErr} }

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	b.disconnected = true
	b.mu.Unlock()
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr == nil {
		b.messages = append(b.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	}
	return doneToken{err: b.publishErr}
}

func (b *fakeBroker) Messages() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message(nil), b.messages...)
}

var _ = Describe("Publisher", func() {
	var (
		broker *fakeBroker
		pub    *Publisher
		rpm    models.DecodedReading
	)

	BeforeEach(func() {
		broker = &fakeBroker{}
		pub = NewPublisher(Config{Broker: "localhost:1883", Topic: "car", Username: "u", Password: "p"}, nil)
		pub.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
			broker.opts = opts
			return broker
		}
		rpm = models.DecodedReading{Name: "Engine RPM", PID: "0C", Mode: 1, Value: "1726", Unit: "rpm", RawValue: "41 0C 1A F8", Timestamp: time.Now()}
	})

	It("defaults the broker scheme and identity", func() {
		Expect(pub.Address()).To(Equal("tcp://localhost:1883"))
		Expect(NewPublisher(Config{Broker: "ssl://broker:8883"}, nil).Address()).To(Equal("ssl://broker:8883"))

		p := NewPublisher(Config{}, nil)
		Expect(p.StateTopic()).To(Equal(DefaultTopic + "/state"))
		Expect(p.cfg.ClientID).To(Equal(DefaultClientID))
	})

	It("names topics after the tree root", func() {
		Expect(pub.ReadingTopic(rpm)).To(Equal("car/readings/010C"))
		Expect(pub.StateTopic()).To(Equal("car/state"))
		Expect(pub.TroubleCodesTopic()).To(Equal("car/dtc"))
	})

	It("publishes nothing before Start", func() {
		Expect(pub.IsRunning()).To(BeFalse())
		Expect(pub.PublishReading(rpm)).To(BeFalse())
		Expect(pub.PublishState("connected", models.DeviceDescriptor{})).To(BeFalse())
	})

	It("reports a refused connection", func() {
		broker.connectErr = errors.New("not authorized")
		Expect(pub.Start()).To(MatchError(ContainSubstring("not authorized")))
		Expect(pub.IsRunning()).To(BeFalse())
	})

	Context("when started", func() {
		BeforeEach(func() {
			Expect(pub.Start()).To(Succeed())
		})

		It("configures the client", func() {
			Expect(pub.IsRunning()).To(BeTrue())
			Expect(broker.opts.ClientID).To(Equal(DefaultClientID))
			Expect(broker.opts.Username).To(Equal("u"))
			Expect(broker.opts.Servers).To(HaveLen(1))
			Expect(broker.opts.Servers[0].String()).To(Equal("tcp://localhost:1883"))
		})

		It("publishes readings as JSON", func() {
			Expect(pub.PublishReading(rpm)).To(BeTrue())

			msgs := broker.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].topic).To(Equal("car/readings/010C"))
			Expect(msgs[0].retained).To(BeFalse())

			var got ReadingMessage
			Expect(json.Unmarshal(msgs[0].payload, &got)).To(Succeed())
			Expect(got.Value).To(Equal("1726"))
			Expect(got.Unit).To(Equal("rpm"))
			Expect(got.Raw).To(Equal("41 0C 1A F8"))
			Expect(got.Error).To(BeFalse())
		})

		It("skips unchanged values", func() {
			Expect(pub.PublishReading(rpm)).To(BeTrue())
			Expect(pub.PublishReading(rpm)).To(BeFalse())
			rpm.Value = "800"
			Expect(pub.PublishReading(rpm)).To(BeTrue())
			Expect(broker.Messages()).To(HaveLen(2))
		})

		It("retries a value whose publish failed", func() {
			broker.publishErr = errors.New("broker gone")
			Expect(pub.PublishReading(rpm)).To(BeFalse())
			broker.publishErr = nil
			Expect(pub.PublishReading(rpm)).To(BeTrue())
		})

		It("retains state and trouble codes", func() {
			Expect(pub.PublishState("connected", models.DeviceDescriptor{DisplayName: "OBDII", Address: "/dev/rfcomm0"})).To(BeTrue())
			Expect(pub.PublishTroubleCodes(nil)).To(BeTrue())

			msgs := broker.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].retained).To(BeTrue())
			Expect(msgs[1].retained).To(BeTrue())

			var state StateMessage
			Expect(json.Unmarshal(msgs[0].payload, &state)).To(Succeed())
			Expect(state.State).To(Equal("connected"))
			Expect(state.Device).To(Equal("/dev/rfcomm0"))

			Expect(string(msgs[1].payload)).To(ContainSubstring(`"codes":[]`))
		})

		It("disconnects on Stop", func() {
			pub.Stop()
			Expect(pub.IsRunning()).To(BeFalse())
			Expect(broker.disconnected).To(BeTrue())
			Expect(pub.PublishReading(rpm)).To(BeFalse())
		})
	})
})
