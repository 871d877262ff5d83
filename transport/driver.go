package transport

// FrameHandler receives raw frames from the radio. The slice is only valid
// for the duration of the call.
type FrameHandler interface {
	HandleFrame(data []byte)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(data []byte)

func (f FrameHandlerFunc) HandleFrame(data []byte) { f(data) }

// RadioDriver is the interface that wraps the basic radio operations.
type RadioDriver interface {
	Init() error
	Transmit(frame []byte) error
	OnInterrupt()
	SetHandler(h FrameHandler)
}
