package wire_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dihedron/amqpengine/wire"
)

var _ = Describe("Marshal/Unmarshal", func() {

	It("round-trips a method frame carrying a field table", func() {
		start := wire.ConnectionStart{
			VersionMajor: 0,
			VersionMinor: 9,
			ServerProperties: wire.Table{
				"product":  "rabbitmq",
				"version":  "3.12",
				"copyright": []byte("ok"),
				"count":    int32(42),
				"pi":       float64(3.5),
				"nested": wire.Table{
					"inner": true,
				},
			},
			Mechanisms: "PLAIN AMQPLAIN",
			Locales:    "en_US",
		}

		data, err := wire.Marshal(start, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(data[len(data)-1]).To(Equal(byte(wire.FrameEnd)))

		n, channelID, frame, err := wire.Unmarshal(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(len(data)))
		Expect(channelID).To(BeEquivalentTo(0))

		got, ok := frame.(wire.ConnectionStart)
		Expect(ok).To(BeTrue())
		Expect(got.Mechanisms).To(Equal("PLAIN AMQPLAIN"))
		Expect(got.ServerProperties["product"]).To(Equal("rabbitmq"))
		Expect(got.ServerProperties["count"]).To(Equal(int32(42)))
		nested, ok := got.ServerProperties["nested"].(wire.Table)
		Expect(ok).To(BeTrue())
		Expect(nested["inner"]).To(Equal(true))
	})

	It("reports an incomplete frame instead of erroring", func() {
		full, err := wire.Marshal(wire.ChannelOpen{}, 1)
		Expect(err).NotTo(HaveOccurred())

		_, _, _, err = wire.Unmarshal(full[:len(full)-2])
		Expect(err).To(Equal(wire.ErrUnmarshalIncomplete))
	})

	It("round-trips a content-header frame with properties", func() {
		header := wire.HeaderFrame{
			ClassID:  60,
			BodySize: 11,
			Properties: wire.Properties{
				ContentType:   "text/plain",
				DeliveryMode:  2,
				CorrelationID: "abc-123",
				Timestamp:     time.Unix(1700000000, 0).UTC(),
				Headers:       wire.Table{"x-retry": int32(1)},
			},
		}

		data, err := wire.Marshal(header, 3)
		Expect(err).NotTo(HaveOccurred())

		_, channelID, frame, err := wire.Unmarshal(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(channelID).To(BeEquivalentTo(3))

		got, ok := frame.(wire.HeaderFrame)
		Expect(ok).To(BeTrue())
		Expect(got.BodySize).To(BeEquivalentTo(11))
		Expect(got.Properties.ContentType).To(Equal("text/plain"))
		Expect(got.Properties.DeliveryMode).To(BeEquivalentTo(2))
		Expect(got.Properties.CorrelationID).To(Equal("abc-123"))
		Expect(got.Properties.Timestamp.Unix()).To(BeEquivalentTo(1700000000))
	})

	It("round-trips a body frame verbatim", func() {
		body := wire.BodyFrame{Payload: []byte("hello world")}
		data, err := wire.Marshal(body, 3)
		Expect(err).NotTo(HaveOccurred())

		_, _, frame, err := wire.Unmarshal(data)
		Expect(err).NotTo(HaveOccurred())
		got, ok := frame.(wire.BodyFrame)
		Expect(ok).To(BeTrue())
		Expect(got.Payload).To(Equal([]byte("hello world")))
	})

	It("round-trips Basic.Deliver", func() {
		deliver := wire.BasicDeliver{
			ConsumerTag: "ctag-1",
			DeliveryTag: 7,
			Redelivered: true,
			Exchange:    "ex",
			RoutingKey:  "rk",
		}
		data, err := wire.Marshal(deliver, 2)
		Expect(err).NotTo(HaveOccurred())

		_, _, frame, err := wire.Unmarshal(data)
		Expect(err).NotTo(HaveOccurred())
		got, ok := frame.(wire.BasicDeliver)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(deliver))
	})
})
