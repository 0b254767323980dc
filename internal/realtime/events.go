package realtime

import (
	"encoding/json"
	"sync"

	"github.com/voxlead/voxlead/internal/conversation"
	"github.com/voxlead/voxlead/internal/protocol"
)

// Update is a conversation change notification. The ledger already reflects
// the update by the time listeners see it.
type Update struct {
	Item  conversation.Item
	Delta *protocol.Delta
}

// RemoteError is an inbound error event from the upstream peer. It does not
// close the channel; listeners decide whether to disconnect.
type RemoteError struct {
	Payload json.RawMessage
}

func (e RemoteError) Error() string {
	if len(e.Payload) == 0 {
		return "remote error"
	}
	return "remote error: " + string(e.Payload)
}

// Events is the session notification contract: an explicit typed
// publish-subscribe surface rather than a generic emitter.
type Events struct {
	mu           sync.RWMutex
	connected    []func()
	disconnected []func()
	updated      []func(Update)
	errors       []func(RemoteError)
	audio        []func(*RemoteStream)
}

func (e *Events) OnConnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, fn)
}

func (e *Events) OnDisconnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, fn)
}

func (e *Events) OnConversationUpdated(fn func(Update)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updated = append(e.updated, fn)
}

func (e *Events) OnError(fn func(RemoteError)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, fn)
}

func (e *Events) OnAudio(fn func(*RemoteStream)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = append(e.audio, fn)
}

func (e *Events) emitConnected() {
	for _, fn := range e.snapshot(&e.connected) {
		fn()
	}
}

func (e *Events) emitDisconnected() {
	for _, fn := range e.snapshot(&e.disconnected) {
		fn()
	}
}

func (e *Events) emitUpdated(u Update) {
	e.mu.RLock()
	fns := append(([]func(Update))(nil), e.updated...)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}

func (e *Events) emitError(err RemoteError) {
	e.mu.RLock()
	fns := append(([]func(RemoteError))(nil), e.errors...)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (e *Events) emitAudio(stream *RemoteStream) {
	e.mu.RLock()
	fns := append(([]func(*RemoteStream))(nil), e.audio...)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(stream)
	}
}

func (e *Events) snapshot(list *[]func()) []func() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append(([]func())(nil), *list...)
}
