package address

import (
	"testing"

	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a, err := Parse("mitosis/v1/p042/webrtc/host.example/some/route")
	require.NoError(t, err)

	require.Equal(t, "mitosis", a.Namespace())
	require.Equal(t, "v1", a.Version())
	require.Equal(t, "p042", a.PeerID())
	require.Equal(t, "webrtc", a.Transport())
	require.Equal(t, "host.example", a.Host())
	require.Equal(t, []string{"some", "route"}, a.Route())
}

func TestParseMinimal(t *testing.T) {
	a, err := Parse("mitosis/v1/p1")
	require.NoError(t, err)
	require.Equal(t, "p1", a.PeerID())
	require.Equal(t, "", a.Transport())
	require.Equal(t, "", a.Host())
	require.Nil(t, a.Route())
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{"", "mitosis", "mitosis/v1", "mitosis/v1/", "mitosis/v1//wss"} {
		_, err := Parse(s)
		if !common.IsRelay(err, common.MalformedAddress) {
			t.Fatalf("%q: expected MalformedAddress, got %v", s, err)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		RelayAddress,
		"mitosis/v1/p1",
		"mitosis/v1/p1/wss/host/",
		"a/b/c/d/e/f/g/h",
	} {
		a, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, s, a.String())
	}
}

func TestNew(t *testing.T) {
	a := New("mitosis", "v1", "p7", "wss", "signal.mitosis.dev", "websocket")
	require.Equal(t, "mitosis/v1/p7/wss/signal.mitosis.dev/websocket", a.String())
	require.Equal(t, "p7", a.PeerID())
}

func TestPeerID(t *testing.T) {
	id, err := PeerID(RelayAddress)
	require.NoError(t, err)
	require.Equal(t, "p000", id)

	_, err = PeerID("nope")
	require.Error(t, err)
}
