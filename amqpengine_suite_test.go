package amqpengine

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestAmqpEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "amqpengine Suite")
}
