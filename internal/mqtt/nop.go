package mqtt

import "github.com/sweeney/gatewise/internal/garage"

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishDoor(garage.Event) error { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
func (NopPublisher) IsConnected() bool { return false }
