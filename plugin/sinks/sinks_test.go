package sinks

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct{ name string }

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Push(_ context.Context, _ *Payload, targetID string) (string, error) {
	return s.name + ":" + targetID, nil
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeSink{name: "telegram"})
	registry.Register(&fakeSink{name: "qq"})

	sink, err := registry.Get("telegram")
	require.NoError(t, err)
	id, err := sink.Push(context.Background(), &Payload{}, "-100123")
	require.NoError(t, err)
	assert.Equal(t, "telegram:-100123", id)

	_, err = registry.Get("discord")
	assert.True(t, errors.Is(err, ErrNoSinkForPlatform))
}
