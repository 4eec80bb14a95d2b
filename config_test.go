package amqpengine

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config.Validate", func() {

	It("rejects a missing hostname", func() {
		cfg := Config{Username: "guest", Password: "guest"}
		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		var target *InvalidArgumentError
		Expect(asInvalidArgument(err, &target)).To(BeTrue())
	})

	It("rejects a negative timeout", func() {
		cfg := Config{Hostname: "localhost", Username: "guest", Password: "guest", Timeout: -time.Second}
		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
	})

	It("applies defaults for zero-valued optional fields", func() {
		cfg := Config{Hostname: "localhost", Username: "guest", Password: "guest"}
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.Port).To(Equal(DefaultPort))
		Expect(cfg.VirtualHost).To(Equal(DefaultVirtualHost))
		Expect(cfg.Heartbeat).To(Equal(DefaultHeartbeat))
	})

	It("leaves explicit non-zero values untouched", func() {
		cfg := Config{Hostname: "localhost", Username: "guest", Password: "guest", Port: 5673, VirtualHost: "/custom", Heartbeat: 30}
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.Port).To(Equal(5673))
		Expect(cfg.VirtualHost).To(Equal("/custom"))
		Expect(cfg.Heartbeat).To(Equal(30))
	})
})

func asInvalidArgument(err error, target **InvalidArgumentError) bool {
	ia, ok := err.(*InvalidArgumentError)
	if ok {
		*target = ia
	}
	return ok
}
