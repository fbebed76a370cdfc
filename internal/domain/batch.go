package domain

import "fmt"

// Batch is an ordered group of events accepted on a single connection.
// Events preserve arrival order and a batch never mixes connections.
type Batch struct {
	// Events are the accepted events, oldest first.
	Events []Event

	// Sender is the remote address of the owning connection.
	Sender string

	// Port is the local listener port.
	Port int

	// Scheme is the transport the connection arrived on.
	Scheme Scheme
}

// NewBatch creates an empty batch for one connection.
func NewBatch(sender string, port int, scheme Scheme) *Batch {
	return &Batch{
		Events: make([]Event, 0),
		Sender: sender,
		Port:   port,
		Scheme: scheme,
	}
}

// Add appends an event to the batch.
func (b *Batch) Add(e Event) {
	b.Events = append(b.Events, e)
}

// Size returns the number of events in the batch.
func (b *Batch) Size() int {
	return len(b.Events)
}

// Empty returns true if the batch has no events.
func (b *Batch) Empty() bool {
	return len(b.Events) == 0
}

// TransitURI renders the provenance URI for the batch,
// e.g. "relp://10.0.0.5:5170".
func (b *Batch) TransitURI() string {
	return fmt.Sprintf("%s://%s:%d", b.Scheme, b.Sender, b.Port)
}
