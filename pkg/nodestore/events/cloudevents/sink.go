// Package cloudevents publishes node lifecycle events as CloudEvents.
package cloudevents

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Event types emitted by the sink.
const (
	TypeNodeCreated = "io.nodestore.node.created"
	TypeNodeUpdated = "io.nodestore.node.updated"
	TypeNodeDeleted = "io.nodestore.node.deleted"
)

// DefaultSource identifies the producer when none is configured.
const DefaultSource = "nodestore"

// Sender is the part of cloudevents.Client the sink needs.
type Sender interface {
	Send(ctx context.Context, event cloudevents.Event) cloudevents.Result
}

// Payload is the data carried by every event.
type Payload struct {
	Node     *nodestore.Node `json:"node"`
	Triggers []string        `json:"triggers,omitempty"`
}

// Sink implements nodestore.EventSink on top of a CloudEvents client.
type Sink struct {
	sender Sender
	source string
	now    func() time.Time
}

var _ nodestore.EventSink = (*Sink)(nil)

// New creates a sink publishing through sender.
func New(sender Sender, source string) *Sink {
	if source == "" {
		source = DefaultSource
	}
	return &Sink{sender: sender, source: source, now: time.Now}
}

// NewHTTP creates a sink that POSTs structured events to target.
func NewHTTP(target, source string) (*Sink, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("creating cloudevents client: %w", err)
	}
	return New(client, source), nil
}

func (s *Sink) NodeCreated(ctx context.Context, node *nodestore.Node, triggers []string) error {
	return s.send(ctx, TypeNodeCreated, node, triggers)
}

func (s *Sink) NodeUpdated(ctx context.Context, node *nodestore.Node, triggers []string) error {
	return s.send(ctx, TypeNodeUpdated, node, triggers)
}

func (s *Sink) NodeDeleted(ctx context.Context, node *nodestore.Node) error {
	return s.send(ctx, TypeNodeDeleted, node, nil)
}

func (s *Sink) send(ctx context.Context, eventType string, node *nodestore.Node, triggers []string) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(s.source)
	e.SetType(eventType)
	e.SetSubject(node.UUID)
	e.SetTime(s.now())
	if err := e.SetData(cloudevents.ApplicationJSON, Payload{Node: node, Triggers: triggers}); err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}

	if result := s.sender.Send(ctx, e); !cloudevents.IsACK(result) {
		return fmt.Errorf("sending %s event for %s: %w", eventType, node.UUID, result)
	}
	return nil
}
