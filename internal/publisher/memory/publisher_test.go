package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs", map[string]string{"adapter": "icodrops"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "runs", msgs[0].Topic)
	assert.JSONEq(t, `{"adapter":"icodrops"}`, string(msgs[0].Data))
	assert.Equal(t, "audit", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "runs", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "runs", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
	require.NoError(t, pub.Close())
}
