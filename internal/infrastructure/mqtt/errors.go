package mqtt

import "errors"

// Sentinels for errors.Is. Broker failures wrap the last four with the
// topic and paho's error.
var (
	ErrNotConnected = errors.New("mqtt: client not connected")
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")

	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)
