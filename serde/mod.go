// Package serde defines the primitives to serialize and deserialize (serde)
// the messages exchanged by the cluster members and the data stored on disk.
//
// A message implementation delegates the encoding to a format engine which is
// looked up in a registry with the format of the context. It allows the data
// model to stay independent of the wire format.
package serde

// Format is the identifier of a format implementation.
type Format string

// FormatJSON is the identifier of the JSON format.
const FormatJSON Format = "JSON"

// Message is the interface that a data model must implement to be
// serialized.
type Message interface {
	// Serialize returns the bytes of the message according to the format of
	// the context.
	Serialize(ctx Context) ([]byte, error)
}

// Factory is the interface to implement to instantiate a message from its
// serialized form.
type Factory interface {
	// Deserialize returns the message of the data according to the format of
	// the context.
	Deserialize(ctx Context, data []byte) (Message, error)
}

// FormatEngine is the interface to implement to provide the encoding and
// decoding of a message for a given format.
type FormatEngine interface {
	// Encode returns the bytes of the message.
	Encode(ctx Context, message Message) ([]byte, error)

	// Decode returns the message populated from the data.
	Decode(ctx Context, data []byte) (Message, error)
}

// ContextEngine is the interface to implement to create a context.
type ContextEngine interface {
	// GetFormat returns the name of the format for this context.
	GetFormat() Format

	// Marshal returns the bytes of the message according to the format of the
	// context.
	Marshal(message interface{}) ([]byte, error)

	// Unmarshal populates the message with the data according to the format of
	// the context.
	Unmarshal(data []byte, message interface{}) error
}

// Context is the context passed to the serialization and deserialization
// requests. It carries the factories a format engine may need to decode
// nested messages.
type Context struct {
	ContextEngine

	factories map[interface{}]Factory
}

// NewContext returns a new empty context.
func NewContext(engine ContextEngine) Context {
	return Context{
		ContextEngine: engine,
		factories:     make(map[interface{}]Factory),
	}
}

// GetFactory returns the factory associated to the key or nil.
func (ctx Context) GetFactory(key interface{}) Factory {
	return ctx.factories[key]
}

// WithFactory returns a copy of the context with the factory registered
// under the key. The parent context is left untouched.
func WithFactory(ctx Context, key interface{}, f Factory) Context {
	factories := make(map[interface{}]Factory, len(ctx.factories)+1)

	for k, v := range ctx.factories {
		factories[k] = v
	}

	factories[key] = f
	ctx.factories = factories

	return ctx
}
