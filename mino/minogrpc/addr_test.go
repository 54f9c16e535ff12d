package minogrpc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/internal/testing/fake"
)

func TestAddress_Equal(t *testing.T) {
	addr := address{host: "127.0.0.1:2000"}

	require.True(t, addr.Equal(addr))
	require.True(t, addr.Equal(NewAddress("127.0.0.1:2000")))
	require.False(t, addr.Equal(address{}))
	require.False(t, addr.Equal(fake.NewAddress(0)))
}

func TestAddress_MarshalText(t *testing.T) {
	addr := address{host: "127.0.0.1:2000"}
	buffer, err := addr.MarshalText()
	require.NoError(t, err)

	require.Equal(t, []byte(addr.host), buffer)
}

func TestAddress_String(t *testing.T) {
	addr := address{host: "127.0.0.1:2000"}
	require.Equal(t, addr.host, addr.String())
	require.Equal(t, addr.host, addr.GetDialAddress())
}

func TestAddressFactory_FromText(t *testing.T) {
	factory := AddressFactory{}
	addr := factory.FromText([]byte("127.0.0.1:2000"))

	require.Equal(t, "127.0.0.1:2000", addr.(address).host)
}
