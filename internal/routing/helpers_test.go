package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

func smppc(t *testing.T, cid string) *SmppClientConnector {
	t.Helper()
	c, err := NewSmppClientConnector(cid)
	require.NoError(t, err)
	return c
}

func httpc(t *testing.T, cid string) *HttpConnector {
	t.Helper()
	c, err := NewHttpConnector(cid, "http://127.0.0.1:8080/mo", "POST")
	require.NoError(t, err)
	return c
}

func testUser(t *testing.T, uid, gid string) *auth.User {
	t.Helper()
	g, err := auth.NewGroup(gid)
	require.NoError(t, err)
	u, err := auth.NewUser(uid, g, uid+"name", "pwd")
	require.NoError(t, err)
	return u
}

func mtRoutable(t *testing.T, user *auth.User, dst, content string) *RoutableSubmitSm {
	t.Helper()
	r, err := NewRoutableSubmitSm(&smpphelper.PDU{
		CommandID:       smpphelper.CommandSubmitSm,
		SourceAddr:      "20203060",
		DestinationAddr: dst,
		ShortMessage:    []byte(content),
	}, user, WithDateTime(time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	return r
}

func moRoutable(t *testing.T, connector Connector, src, content string) *RoutableDeliverSm {
	t.Helper()
	r, err := NewRoutableDeliverSm(&smpphelper.PDU{
		CommandID:       smpphelper.CommandDeliverSm,
		SourceAddr:      src,
		DestinationAddr: "1234",
		ShortMessage:    []byte(content),
	}, connector, WithDateTime(time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	return r
}
