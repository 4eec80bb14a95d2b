package amqpengine

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Dial", func() {
	It("fails fast on an invalid config without touching the network", func() {
		_, err := Dial(Config{}, nil)
		Expect(err).To(HaveOccurred())
		_, ok := err.(*InvalidArgumentError)
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("Connection.nextChannelIDLocked", func() {
	It("picks the smallest unused id instead of growing monotonically", func() {
		conn := &Connection{channels: map[uint16]*Channel{
			1: nil,
			2: nil,
			4: nil,
		}}
		Expect(conn.nextChannelIDLocked()).To(BeEquivalentTo(3))
	})

	It("picks 1 on a fresh connection", func() {
		conn := &Connection{channels: make(map[uint16]*Channel)}
		Expect(conn.nextChannelIDLocked()).To(BeEquivalentTo(1))
	})

	It("reuses an id freed by a closed channel", func() {
		conn := &Connection{channels: map[uint16]*Channel{1: nil}}
		delete(conn.channels, 1)
		Expect(conn.nextChannelIDLocked()).To(BeEquivalentTo(1))
	})
})
