package amqpengine

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("error taxonomy", func() {

	It("unwraps a ConnectionError to its cause", func() {
		cause := errors.New("socket reset")
		err := wrapConnectionError(cause, "write to socket")
		Expect(err.Error()).To(ContainSubstring("connection error"))
		Expect(errors.Unwrap(err)).To(HaveOccurred())
	})

	It("formats a ChannelError with the channel prefix", func() {
		err := newChannelError("channel %d closed by broker", 3)
		Expect(err.Error()).To(Equal("channel error: channel 3 closed by broker"))
	})

	It("formats a MessageError with the message prefix", func() {
		err := newMessageError("publish negatively acknowledged (delivery tag %d)", uint64(9))
		Expect(err.Error()).To(Equal("message error: publish negatively acknowledged (delivery tag 9)"))
	})

	It("constructs an InvalidArgumentError for invalid arguments", func() {
		err := newInvalidArgument("hostname should be a non-empty string")
		_, ok := err.(*InvalidArgumentError)
		Expect(ok).To(BeTrue())
	})
})
