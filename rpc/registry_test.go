package rpc_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dihedron/amqpengine/rpc"
	"github.com/dihedron/amqpengine/wire"
)

var _ = Describe("Registry", func() {

	It("correlates a registered request with its matching response", func() {
		r := rpc.New()
		token := r.RegisterRequest([]string{"Channel.OpenOk"})

		consumed := r.OnFrame(wire.ChannelOpenOk{})
		Expect(consumed).To(BeTrue())

		frame, err := r.GetRequest(token, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame).To(Equal(wire.ChannelOpenOk{}))
	})

	It("lets frames matching no slot fall through for general dispatch", func() {
		r := rpc.New()
		r.RegisterRequest([]string{"Channel.OpenOk"})

		consumed := r.OnFrame(wire.BasicCancel{ConsumerTag: "ctag"})
		Expect(consumed).To(BeFalse())
	})

	It("only fulfills one of several concurrently registered slots", func() {
		r := rpc.New()
		openToken := r.RegisterRequest([]string{"Channel.OpenOk"})
		closeToken := r.RegisterRequest([]string{"Channel.CloseOk"})

		Expect(r.OnFrame(wire.ChannelCloseOk{})).To(BeTrue())

		_, err := r.GetRequest(openToken, 20*time.Millisecond)
		Expect(err).To(Equal(rpc.ErrTimeout))

		frame, err := r.GetRequest(closeToken, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame).To(Equal(wire.ChannelCloseOk{}))
	})

	It("times out when no matching response ever arrives", func() {
		r := rpc.New()
		token := r.RegisterRequest([]string{"Channel.OpenOk"})

		_, err := r.GetRequest(token, 20*time.Millisecond)
		Expect(err).To(Equal(rpc.ErrTimeout))
	})

	It("treats an empty expected set as fire-and-forget", func() {
		r := rpc.New()
		token := r.RegisterRequest(nil)

		frame, err := r.GetRequest(token, 20*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame).To(BeNil())
	})
})
