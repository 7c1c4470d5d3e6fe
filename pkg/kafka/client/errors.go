package client

import (
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Connection failures are surfaced as distinct kinds so callers can
// alert differently. All of them are fatal at startup.
var (
	// ErrNoBrokers means the broker address is not configured at all.
	ErrNoBrokers = errors.New("kafka: broker address is not configured")
	// ErrAuthentication means the brokers rejected our credentials.
	ErrAuthentication = errors.New("kafka: authentication failed")
	// ErrConnectTimeout means no broker responded within the connect timeout.
	ErrConnectTimeout = errors.New("kafka: connection timed out")
	// ErrConnection covers every other failure to reach the cluster.
	ErrConnection = errors.New("kafka: connection failed")
)

// classifyConnectError maps a client error onto one of the sentinel
// connection error kinds.
func classifyConnectError(err error) error {
	var kafkaErr kafka.Error
	if !errors.As(err, &kafkaErr) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	switch {
	case kafkaErr.Code() == kafka.ErrAuthentication,
		kafkaErr.Code() == kafka.ErrSaslAuthenticationFailed:
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	case kafkaErr.IsTimeout():
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
}
