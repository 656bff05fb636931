package nodestore

import (
	"context"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// NodeCreated does nothing and returns nil
func (n *NoopEventSink) NodeCreated(ctx context.Context, node *Node, triggers []string) error {
	return nil
}

// NodeUpdated does nothing and returns nil
func (n *NoopEventSink) NodeUpdated(ctx context.Context, node *Node, triggers []string) error {
	return nil
}

// NodeDeleted does nothing and returns nil
func (n *NoopEventSink) NodeDeleted(ctx context.Context, node *Node) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger Logger) EventSink {
	return &LoggingEventSink{logger: logger}
}

// NodeCreated logs the node creation event
func (l *LoggingEventSink) NodeCreated(ctx context.Context, node *Node, triggers []string) error {
	l.logger.Infof("Node created: event=%s UUID=%s, Title=%s, Mimetype=%s, Parent=%s, Triggers=%d",
		uuid.NewString(), node.UUID, node.Title, node.Mimetype, node.Parent, len(triggers))
	return nil
}

// NodeUpdated logs the node update event
func (l *LoggingEventSink) NodeUpdated(ctx context.Context, node *Node, triggers []string) error {
	l.logger.Infof("Node updated: event=%s UUID=%s, Title=%s, Triggers=%d",
		uuid.NewString(), node.UUID, node.Title, len(triggers))
	return nil
}

// NodeDeleted logs the node deletion event
func (l *LoggingEventSink) NodeDeleted(ctx context.Context, node *Node) error {
	l.logger.Infof("Node deleted: event=%s UUID=%s", uuid.NewString(), node.UUID)
	return nil
}

// MultiEventSink fans events out to several sinks and returns the first error.
type MultiEventSink []EventSink

func (m MultiEventSink) NodeCreated(ctx context.Context, node *Node, triggers []string) error {
	var first error
	for _, s := range m {
		if err := s.NodeCreated(ctx, node, triggers); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiEventSink) NodeUpdated(ctx context.Context, node *Node, triggers []string) error {
	var first error
	for _, s := range m {
		if err := s.NodeUpdated(ctx, node, triggers); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiEventSink) NodeDeleted(ctx context.Context, node *Node) error {
	var first error
	for _, s := range m {
		if err := s.NodeDeleted(ctx, node); err != nil && first == nil {
			first = err
		}
	}
	return first
}
