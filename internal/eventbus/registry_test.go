package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Name string `json:"name"`
}

func (e testEvent) EventName() string { return "UserCreated" }

func noopHandler(name string) Handler {
	return NewHandler(name, func(ctx context.Context, event any) error {
		return nil
	})
}

func TestRegistrySubscribe(t *testing.T) {
	t.Run("FirstHandlerForType", func(t *testing.T) {
		registry := NewRegistry()

		first := registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))

		assert.True(t, first)
	})

	t.Run("SecondHandlerForType", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))

		first := registry.Subscribe("UserCreated", nil, noopHandler("handler-2"))

		assert.False(t, first)

		_, handlers, ok := registry.Lookup("UserCreated")
		require.True(t, ok)
		assert.Len(t, handlers, 2)
		assert.Equal(t, "handler-1", handlers[0].Name())
		assert.Equal(t, "handler-2", handlers[1].Name())
	})

	t.Run("NilDecoderReusesExisting", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))
		registry.Subscribe("UserCreated", nil, noopHandler("handler-2"))

		decode, _, ok := registry.Lookup("UserCreated")
		require.True(t, ok)
		require.NotNil(t, decode)

		event, err := decode([]byte(`{"name":"alice"}`))
		require.NoError(t, err)
		assert.Equal(t, &testEvent{Name: "alice"}, event)
	})
}

func TestRegistryUnsubscribe(t *testing.T) {
	t.Run("RemovesHandlerByName", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))
		registry.Subscribe("UserCreated", nil, noopHandler("handler-2"))

		registry.Unsubscribe("UserCreated", "handler-1")

		_, handlers, ok := registry.Lookup("UserCreated")
		require.True(t, ok)
		require.Len(t, handlers, 1)
		assert.Equal(t, "handler-2", handlers[0].Name())
	})

	t.Run("LastHandlerRemovesSubscription", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))

		registry.Unsubscribe("UserCreated", "handler-1")

		_, _, ok := registry.Lookup("UserCreated")
		assert.False(t, ok)
	})

	t.Run("UnknownEventTypeIsNoOp", func(t *testing.T) {
		registry := NewRegistry()

		registry.Unsubscribe("Unknown", "handler-1")
	})
}

func TestRegistryLookup(t *testing.T) {
	t.Run("UnknownEventType", func(t *testing.T) {
		registry := NewRegistry()

		decode, handlers, ok := registry.Lookup("Unknown")

		assert.False(t, ok)
		assert.Nil(t, decode)
		assert.Nil(t, handlers)
	})

	t.Run("ReturnedSliceIsACopy", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))

		_, handlers, ok := registry.Lookup("UserCreated")
		require.True(t, ok)
		handlers[0] = noopHandler("mutated")

		_, handlers, ok = registry.Lookup("UserCreated")
		require.True(t, ok)
		assert.Equal(t, "handler-1", handlers[0].Name())
	})
}

func TestRegistryEventTypes(t *testing.T) {
	registry := NewRegistry()
	registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))
	registry.Subscribe("OtpSent", DecodeJSON[testEvent](), noopHandler("handler-2"))

	assert.Equal(t, []string{"OtpSent", "UserCreated"}, registry.EventTypes())
}

func TestRegistryValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", DecodeJSON[testEvent](), noopHandler("handler-1"))

		assert.NoError(t, registry.Validate())
	})

	t.Run("MissingDecoder", func(t *testing.T) {
		registry := NewRegistry()
		registry.Subscribe("UserCreated", nil, noopHandler("handler-1"))

		err := registry.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no decoder")
	})
}

func TestDecodeJSON(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		decode := DecodeJSON[testEvent]()

		event, err := decode([]byte(`{"name":"alice"}`))

		require.NoError(t, err)
		assert.Equal(t, &testEvent{Name: "alice"}, event)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		decode := DecodeJSON[testEvent]()

		_, err := decode([]byte(`{not json`))

		assert.Error(t, err)
	})
}

func TestHandlerFunc(t *testing.T) {
	wantErr := errors.New("boom")
	handler := NewHandler("failing", func(ctx context.Context, event any) error {
		return wantErr
	})

	assert.Equal(t, "failing", handler.Name())
	assert.ErrorIs(t, handler.Handle(context.Background(), nil), wantErr)
}
