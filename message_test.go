package amqpengine

import (
	amqp "github.com/rabbitmq/amqp091-go"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dihedron/amqpengine/wire"
)

var _ = Describe("Properties conversion", func() {

	It("round-trips through the wire representation", func() {
		p := Properties{
			ContentType:   "application/json",
			DeliveryMode:  2,
			CorrelationID: "req-1",
			Headers:       amqp.Table{"x-count": int32(3)},
		}

		w := toWireProperties(p)
		Expect(w.ContentType).To(Equal("application/json"))
		Expect(w.Headers["x-count"]).To(Equal(int32(3)))

		back := fromWireProperties(w)
		Expect(back.ContentType).To(Equal(p.ContentType))
		Expect(back.DeliveryMode).To(Equal(p.DeliveryMode))
		Expect(back.CorrelationID).To(Equal(p.CorrelationID))
		Expect(back.Headers["x-count"]).To(Equal(int32(3)))
	})

	It("leaves a nil headers map nil on both sides", func() {
		w := toWireProperties(Properties{ContentType: "text/plain"})
		Expect(w.Headers).To(BeNil())

		back := fromWireProperties(wire.Properties{ContentType: "text/plain"})
		Expect(back.Headers).To(BeNil())
	})
})

var _ = Describe("Message", func() {

	It("refuses Ack/Nack/Reject on a user-constructed outbound message", func() {
		m := NewOutboundMessage(nil, []byte("payload"), Properties{})
		Expect(m.Ack()).To(HaveOccurred())
		Expect(m.Nack(false)).To(HaveOccurred())
		Expect(m.Reject(false)).To(HaveOccurred())
	})

	It("decodes a UTF-8 body as text", func() {
		m := &Message{Body: []byte("hello"), AutoDecode: true}
		Expect(m.DecodedBody()).To(Equal("hello"))
	})
})
