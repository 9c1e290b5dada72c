package streamhub

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/gateway-core/infrastructure/logging"
)

func testHub() *Hub {
	return New(logging.New("streamhub-test", "error", "json"))
}

func TestCreateAndSendEvent_Succeeds(t *testing.T) {
	h := testHub()
	id := h.CreateStream(CreateOptions{ServiceID: "agent-service"})

	err := h.SendProgress(id, 50, "halfway")
	require.NoError(t, err)

	info, ok := h.GetStreamInfo(id)
	require.True(t, ok)
	assert.Equal(t, StatusActive, info.Status)
}

func TestSendEvent_UnknownStreamErrors(t *testing.T) {
	h := testHub()
	err := h.SendEvent("missing", EventChunk, nil)
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestSendEvent_InactiveStreamErrors(t *testing.T) {
	h := testHub()
	id := h.CreateStream(CreateOptions{ServiceID: "agent-service"})
	require.NoError(t, h.CloseStream(id))

	err := h.SendEvent(id, EventChunk, nil)
	assert.ErrorIs(t, err, ErrStreamInactive)
}

func TestCloseStream_UnknownErrors(t *testing.T) {
	h := testHub()
	assert.ErrorIs(t, h.CloseStream("missing"), ErrStreamNotFound)
}

func TestListActiveStreams_FiltersByServiceAndUser(t *testing.T) {
	h := testHub()
	id1 := h.CreateStream(CreateOptions{ServiceID: "agent-service", UserID: "u1"})
	h.CreateStream(CreateOptions{ServiceID: "knowledge-service", UserID: "u2"})

	filtered := h.ListActiveStreams("u1", "")
	require.Len(t, filtered, 1)
	assert.Equal(t, id1, filtered[0].ID)

	filtered = h.ListActiveStreams("", "knowledge-service")
	require.Len(t, filtered, 1)
}

func TestStats_CountsByStatus(t *testing.T) {
	h := testHub()
	id := h.CreateStream(CreateOptions{ServiceID: "svc"})
	require.NoError(t, h.CloseStream(id))
	h.CreateStream(CreateOptions{ServiceID: "svc"})

	stats := h.Stats()
	assert.Equal(t, 2, stats.TotalStreams)
	assert.Equal(t, 1, stats.CompletedStreams)
	assert.Equal(t, 1, stats.ActiveStreams)
}

func TestReap_RemovesExpiredStreams(t *testing.T) {
	h := testHub()
	id := h.CreateStream(CreateOptions{ServiceID: "svc", Timeout: 10 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	purged := h.Reap()
	assert.Equal(t, 1, purged)
	_, ok := h.GetStreamInfo(id)
	assert.False(t, ok)
}

func TestHandler_StreamsEventsThenCompletes(t *testing.T) {
	h := testHub()
	id := h.CreateStream(CreateOptions{ServiceID: "svc", KeepaliveInterval: 50 * time.Millisecond})

	router := mux.NewRouter()
	router.HandleFunc("/streams/{stream_id}", h.Handler())

	req := httptest.NewRequest(http.MethodGet, "/streams/"+id, nil)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = h.SendComplete(id, "done")
	}()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not terminate after completion event")
	}

	assert.Contains(t, rec.Body.String(), "event: complete")
}

func TestHandler_UnknownStreamReturns404(t *testing.T) {
	h := testHub()
	router := mux.NewRouter()
	router.HandleFunc("/streams/{stream_id}", h.Handler())

	req := httptest.NewRequest(http.MethodGet, "/streams/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
