package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/mosaicnetworks/dsm/src/config"
	"github.com/mosaicnetworks/dsm/src/net"
	"github.com/mosaicnetworks/dsm/src/node"
	"github.com/mosaicnetworks/dsm/src/peers"
	"github.com/mosaicnetworks/dsm/src/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"
)

func newTestService(t *testing.T) (*Service, *node.Node) {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.GuestPages = 8

	cluster := peers.NewCluster([]string{"node0"}, conf.BasePort)
	addr, err := cluster.Resolve(0)
	require.NoError(t, err)
	_, trans := net.NewInmemTransport(addr.String())

	n := node.NewNode(conf, cluster, trans, node.NewInmemGuest(conf.GuestPages))
	require.NoError(t, n.Init())
	t.Cleanup(n.Shutdown)

	return NewService(conf.ServiceAddr, n, common.NewTestEntry(t, common.TestLogLevel)), n
}

func get(t *testing.T, s *Service, method, url string, v interface{}) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if v != nil && rec.Code == http.StatusOK {
		require.NoError(t, codec.NewDecoder(rec.Body, new(codec.JsonHandle)).Decode(v))
	}
	return rec
}

func TestGetStats(t *testing.T) {
	s, _ := newTestService(t)

	var stats map[string]string
	rec := get(t, s, http.MethodGet, "/stats", &stats)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "0", stats["id"])
	assert.Equal(t, "1", stats["slots"])
	assert.Contains(t, stats, "rss")
}

func TestGetProfile(t *testing.T) {
	s, n := newTestService(t)

	// node 0 owns everything, faults are resolved locally
	for i := 0; i < 3; i++ {
		require.NoError(t, n.ResolveFault(context.Background(), node.Fault{VFN: 2}))
	}
	require.NoError(t, n.ResolveFault(context.Background(), node.Fault{VFN: 5, Write: true}))

	var rep profile.Report
	rec := get(t, s, http.MethodGet, "/profile?top=1", &rep)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rep.Pages, 1)
	assert.Equal(t, uint64(2), rep.Pages[0].VFN)
	assert.Equal(t, uint64(4), rep.TotalFaults)
	assert.Equal(t, 2, rep.UniquePages)

	rec = get(t, s, http.MethodGet, "/profile?top=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, http.MethodGet, "/profile?top=4611686018427387904", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, http.MethodPost, "/profile/reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rep = profile.Report{}
	get(t, s, http.MethodGet, "/profile", &rep)
	assert.Zero(t, rep.TotalFaults)
	assert.Empty(t, rep.Pages)
}

func TestGetSlots(t *testing.T) {
	s, n := newTestService(t)

	_, err := n.AddSlot(100, 4)
	require.NoError(t, err)

	var slots []SlotInfo
	rec := get(t, s, http.MethodGet, "/slots", &slots)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, slots, 2)
	assert.Equal(t, SlotInfo{BaseVFN: 0, NPages: 8, BaseGFN: 0}, slots[0])
	assert.Equal(t, SlotInfo{BaseVFN: 100, NPages: 4, BaseGFN: 100}, slots[1])

	rec = get(t, s, http.MethodPost, "/slots", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
