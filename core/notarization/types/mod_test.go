package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/internal/testing/fake"
)

func TestTimeWindow_Contains(t *testing.T) {
	now := time.Unix(1000, 0)

	require.True(t, TimeWindow{}.Contains(now, 0))

	window := TimeWindow{From: now, Until: now.Add(time.Minute)}
	require.True(t, window.Contains(now, 0))
	require.True(t, window.Contains(now.Add(time.Minute), 0))
	require.False(t, window.Contains(now.Add(-time.Second), 0))
	require.True(t, window.Contains(now.Add(-time.Second), time.Second))
	require.False(t, window.Contains(now.Add(time.Minute+time.Second), 0))
	require.True(t, window.Contains(now.Add(time.Minute+time.Second), time.Second))
}

func TestMessages_Serialize(t *testing.T) {
	ctx := fake.NewContextWithFormat("BAD")

	_, err := Request{}.Serialize(ctx)
	require.EqualError(t, err, "encoding failed: format 'BAD' is not implemented")

	_, err = Response{}.Serialize(ctx)
	require.EqualError(t, err, "encoding failed: format 'BAD' is not implemented")

	_, err = MessageFactory{}.Deserialize(ctx, nil)
	require.EqualError(t, err, "decoding failed: format 'BAD' is not implemented")
}
