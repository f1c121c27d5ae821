package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://hooks.test/shopscrape"

func newTestNotifier(t *testing.T, secret string) (*Notifier, *httpmock.MockTransport) {
	t.Helper()
	n := New(hookURL, secret)
	require.NotNil(t, n)
	n.Delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	transport := httpmock.NewMockTransport()
	n.Client().SetTransport(transport)
	return n, transport
}

func TestNewWithoutURLIsDisabled(t *testing.T) {
	n := New("", "secret")
	assert.Nil(t, n)
	assert.False(t, n.Notify(context.Background(), &Event{Type: JobCompleted}))
	assert.NotPanics(t, func() { n.NotifyAsync(&Event{Type: JobCompleted}) })
}

func TestDeliverSignsBody(t *testing.T) {
	n, transport := newTestNotifier(t, "s3cret")

	var gotSig string
	var got Event
	transport.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		gotSig = req.Header.Get(SignatureHeader)
		assert.Equal(t, Sign("s3cret", body), gotSig)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		require.NoError(t, json.Unmarshal(body, &got))
		return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
	})

	event := &Event{Type: JobCompleted, JobID: 7, Timestamp: 1700000000, Data: map[string]int{"products": 3}}
	require.NoError(t, n.Deliver(context.Background(), event))
	assert.Contains(t, gotSig, "sha256=")
	assert.Equal(t, int64(7), got.JobID)
	assert.Equal(t, JobCompleted, got.Type)
}

func TestDeliverWithoutSecretSendsNoSignature(t *testing.T) {
	n, transport := newTestNotifier(t, "")
	transport.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get(SignatureHeader))
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})
	require.NoError(t, n.Deliver(context.Background(), &Event{Type: JobFailed, JobID: 1}))
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	n, transport := newTestNotifier(t, "")
	transport.RegisterResponder(http.MethodPost, hookURL,
		httpmock.NewStringResponder(http.StatusBadGateway, "").
			Then(httpmock.NewStringResponder(http.StatusOK, "")),
	)

	assert.True(t, n.Notify(context.Background(), &Event{Type: JobCompleted, JobID: 2}))
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestNotifyGivesUp(t *testing.T) {
	n, transport := newTestNotifier(t, "")
	transport.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	assert.False(t, n.Notify(context.Background(), &Event{Type: JobCompleted, JobID: 3}))
	assert.Equal(t, 3, transport.GetTotalCallCount())
}
