package amqpengine

import (
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dihedron/amqpengine/wire"
)

func newTestChannel() *Channel {
	conn := &Connection{
		state:    StateOpen,
		channels: make(map[uint16]*Channel),
		logger:   slog.Default(),
		io:       NewIO(nil, nil, 0, nil, nil),
	}
	ch := newChannel(1, conn, time.Second)
	ch.setState(StateOpen)
	return ch
}

var _ = Describe("Channel content reassembly", func() {

	It("assembles a message once Deliver+Header+Body(s) are all buffered", func() {
		ch := newTestChannel()
		ch.inbound = []wire.Frame{
			wire.BasicDeliver{ConsumerTag: "ctag", DeliveryTag: 1, Exchange: "ex", RoutingKey: "rk"},
			wire.HeaderFrame{ClassID: 60, BodySize: 5, Properties: wire.Properties{ContentType: "text/plain"}},
			wire.BodyFrame{Payload: []byte("hel")},
			wire.BodyFrame{Payload: []byte("lo")},
		}

		msg, err := ch.buildMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).NotTo(BeNil())
		Expect(string(msg.Body)).To(Equal("hello"))
		Expect(msg.Method.DeliveryTag).To(BeEquivalentTo(1))
		Expect(msg.Properties.ContentType).To(Equal("text/plain"))
		Expect(ch.inbound).To(BeEmpty())
	})

	It("completes immediately for a zero-length body", func() {
		ch := newTestChannel()
		ch.inbound = []wire.Frame{
			wire.BasicDeliver{ConsumerTag: "ctag", DeliveryTag: 2},
			wire.HeaderFrame{ClassID: 60, BodySize: 0},
		}

		msg, err := ch.buildMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).NotTo(BeNil())
		Expect(msg.Body).To(BeEmpty())
	})

	It("produces no message while fewer than two frames are buffered", func() {
		ch := newTestChannel()
		ch.inbound = []wire.Frame{
			wire.BasicDeliver{ConsumerTag: "ctag", DeliveryTag: 3},
		}

		msg, err := ch.buildMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(BeNil())
	})

	It("discards an out-of-order leading frame instead of stalling", func() {
		ch := newTestChannel()
		ch.inbound = []wire.Frame{
			wire.HeaderFrame{ClassID: 60, BodySize: 0},
			wire.BasicDeliver{ConsumerTag: "ctag", DeliveryTag: 4},
			wire.HeaderFrame{ClassID: 60, BodySize: 0},
		}

		msg, err := ch.buildMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(BeNil())
		Expect(ch.inbound).To(HaveLen(2))

		msg, err = ch.buildMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).NotTo(BeNil())
		Expect(msg.Method.DeliveryTag).To(BeEquivalentTo(4))
	})
})

var _ = Describe("buildPublishFrames", func() {

	It("emits exactly one body frame for a body under FrameMax", func() {
		frames := buildPublishFrames("ex", "rk", []byte("hello"), Properties{}, false, false)
		Expect(frames).To(HaveLen(3))
		Expect(frames[0].Name()).To(Equal("Basic.Publish"))
		Expect(frames[1].Name()).To(Equal("ContentHeader"))
		Expect(frames[2].Name()).To(Equal("ContentBody"))
	})

	It("splits a large body into ceil(len/chunk) body frames", func() {
		chunkSize := FrameMax - 8
		body := make([]byte, chunkSize*2+10)
		frames := buildPublishFrames("ex", "rk", body, Properties{}, false, false)

		bodyFrames := 0
		for _, f := range frames {
			if f.Name() == "ContentBody" {
				bodyFrames++
			}
		}
		Expect(bodyFrames).To(Equal(3))
	})

	It("emits no body frames for an empty body", func() {
		frames := buildPublishFrames("ex", "rk", nil, Properties{}, false, false)
		Expect(frames).To(HaveLen(2))
	})
})

var _ = Describe("Channel consumer tag bookkeeping", func() {

	It("tracks, lists and clears consumer tags", func() {
		ch := newTestChannel()
		ch.addConsumerTag("a")
		ch.addConsumerTag("b")
		Expect(ch.hasConsumerTags()).To(BeTrue())
		Expect(ch.consumerTagList()).To(ConsistOf("a", "b"))

		ch.removeConsumerTag("a")
		Expect(ch.consumerTagList()).To(ConsistOf("b"))

		ch.clearConsumerTags()
		Expect(ch.hasConsumerTags()).To(BeFalse())
	})
})

var _ = Describe("Channel.CheckForErrors", func() {

	It("raises and clears a latched error exactly once", func() {
		ch := newTestChannel()
		ch.latchError(newChannelError("boom"))

		err := ch.CheckForErrors()
		Expect(err).To(HaveOccurred())

		err = ch.CheckForErrors()
		Expect(err).NotTo(HaveOccurred())
	})

	It("transitions to Closed once the owning connection is closed", func() {
		ch := newTestChannel()
		ch.conn.setState(StateClosed)

		_ = ch.CheckForErrors()
		Expect(ch.State()).To(Equal(StateClosed))
	})
})
