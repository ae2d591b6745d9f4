package publisher

import (
	"context"
	"errors"
	"net"

	"github.com/segmentio/kafka-go"
)

// ErrShuttingDown is returned by Publish once Close has been called.
var ErrShuttingDown = errors.New("publisher: shutting down")

// ErrNilPayload is returned by Publish for a nil payload.
var ErrNilPayload = errors.New("publisher: payload must not be nil")

// permanentKafkaErrors never succeed on retry; they go straight to the DLQ
// chain.
var permanentKafkaErrors = map[kafka.Error]struct{}{
	kafka.MessageSizeTooLarge:         {},
	kafka.InvalidTopic:                {},
	kafka.TopicAuthorizationFailed:    {},
	kafka.GroupAuthorizationFailed:    {},
	kafka.ClusterAuthorizationFailed:  {},
	kafka.SASLAuthenticationFailed:    {},
	kafka.UnsupportedSASLMechanism:    {},
	kafka.UnsupportedVersion:          {},
	kafka.InvalidRequiredAcks:         {},
	kafka.UnsupportedForMessageFormat: {},
	kafka.InvalidRecord:               {},
}

// transientKafkaErrors covers retriable codes the client does not flag as
// temporary itself.
var transientKafkaErrors = map[kafka.Error]struct{}{
	kafka.LeaderNotAvailable:           {},
	kafka.NotLeaderForPartition:        {},
	kafka.BrokerNotAvailable:           {},
	kafka.RequestTimedOut:              {},
	kafka.NetworkException:             {},
	kafka.GroupCoordinatorNotAvailable: {},
	kafka.NotEnoughReplicas:            {},
	kafka.RebalanceInProgress:          {},
}

// IsTransient reports whether err is worth retrying against the same topic.
// Timeouts, network failures, and retriable broker codes (not-leader,
// broker-unavailable) are transient; authorization, record-too-large, and
// invalid-topic classes are not. Unknown errors count as transient so the
// DLQ chain can take over after retries.
func IsTransient(err error) bool {
	var ke kafka.Error
	if errors.As(err, &ke) {
		if _, permanent := permanentKafkaErrors[ke]; permanent {
			return false
		}
		if _, transient := transientKafkaErrors[ke]; transient {
			return true
		}
		return ke.Temporary() || ke.Timeout()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return true
}

// errorClass maps err to a low-cardinality label for metrics.
func errorClass(err error) string {
	var ke kafka.Error
	if errors.As(err, &ke) {
		return ke.Title()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return "Network"
	}
	return "Unknown"
}
