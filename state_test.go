package amqpengine

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("State.String", func() {
	It("names every defined state", func() {
		Expect(StateClosed.String()).To(Equal("closed"))
		Expect(StateOpening.String()).To(Equal("opening"))
		Expect(StateOpen.String()).To(Equal("open"))
		Expect(StateClosing.String()).To(Equal("closing"))
	})

	It("falls back to unknown for an out-of-range value", func() {
		Expect(State(99).String()).To(Equal("unknown"))
	})
})
