package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/duet/internal/storage"
	"github.com/goodtune/duet/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	mu       sync.Mutex
	push     []pushRequest
	sms      []map[string]string
	status   int
	requests int
}

func (g *gateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		var req pushRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		g.requests++
		g.push = append(g.push, req)
		status := g.status
		g.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	})
	mux.HandleFunc("/sms", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		g.mu.Lock()
		g.requests++
		g.sms = append(g.sms, map[string]string{
			"To":   r.PostForm.Get("To"),
			"From": r.PostForm.Get("From"),
			"Body": r.PostForm.Get("Body"),
		})
		status := g.status
		g.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	})
	return mux
}

func setup(t *testing.T) (*Notifier, *gateway, storage.Store) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "duet.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.PushSubscriptions().Put(ctx, storage.PushSubscription{
		PairID: "pair-1", Role: storage.RoleMember2, Endpoint: "https://push.example/abc", P256dh: "key", Auth: "secret",
	}))
	require.NoError(t, store.Contacts().Put(ctx, storage.Contact{
		PairID: "pair-1", Role: storage.RoleMember2, Phone: "+15550100",
	}))

	gw := &gateway{}
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)

	n, err := New(Config{
		PushURL:  srv.URL + "/push",
		SMSURL:   srv.URL + "/sms",
		SMSFrom:  "duet",
		Timeout:  time.Second,
		Cooldown: time.Minute,
		Logger:   zerolog.Nop(),
	}, store)
	require.NoError(t, err)
	return n, gw, store
}

func TestNotifyDeliversOnBothChannels(t *testing.T) {
	n, gw, _ := setup(t)
	require.True(t, n.Enabled())

	n.Notify(PartnerReady{PairID: "pair-1", From: storage.RoleMember1, To: storage.RoleMember2})
	n.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.push, 1)
	assert.Equal(t, "https://push.example/abc", gw.push[0].Subscription.Endpoint)
	assert.Equal(t, "key", gw.push[0].Subscription.Keys.P256dh)
	assert.Equal(t, KindPartnerReady, gw.push[0].Kind)
	assert.Equal(t, "Your partner is ready", gw.push[0].Title)

	require.Len(t, gw.sms, 1)
	assert.Equal(t, "+15550100", gw.sms[0]["To"])
	assert.Equal(t, "duet", gw.sms[0]["From"])
	assert.Contains(t, gw.sms[0]["Body"], "Your partner is ready")
}

func TestNotifyCooldown(t *testing.T) {
	n, gw, _ := setup(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	intent := PartnerReady{PairID: "pair-1", From: storage.RoleMember1, To: storage.RoleMember2}
	n.Notify(intent)
	n.Notify(intent)
	n.Wait()

	gw.mu.Lock()
	assert.Equal(t, 2, gw.requests, "second notify inside cooldown should be suppressed")
	gw.mu.Unlock()

	// A different intent kind has its own cooldown
	n.Notify(ActionConsumed{PairID: "pair-1", To: storage.RoleMember2, NavigateTarget: "/activities/date-night"})
	n.Wait()

	now = now.Add(time.Minute)
	n.Notify(intent)
	n.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, 6, gw.requests)
	assert.Equal(t, "/activities/date-night", gw.push[1].URL)
}

func TestNotifySkipsUnregisteredRecipient(t *testing.T) {
	n, gw, _ := setup(t)

	n.Notify(PartnerReady{PairID: "pair-1", From: storage.RoleMember2, To: storage.RoleMember1})
	n.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, 0, gw.requests)
}

func TestGatewayFailureIsContained(t *testing.T) {
	n, gw, store := setup(t)
	gw.status = http.StatusBadGateway

	srv := httptest.NewServer(gw.handler())
	defer srv.Close()

	err := NewPushChannel(srv.URL+"/push", store.PushSubscriptions(), nil).
		Deliver(context.Background(), PartnerReady{PairID: "pair-1", To: storage.RoleMember2})
	assert.ErrorContains(t, err, "502")

	err = NewSMSChannel(srv.URL+"/sms", "", store.Contacts(), nil).
		Deliver(context.Background(), PartnerReady{PairID: "pair-1", To: storage.RoleMember2})
	assert.ErrorContains(t, err, "502")

	n.Notify(PartnerReady{PairID: "pair-1", From: storage.RoleMember1, To: storage.RoleMember2})
	n.Wait()
}

type panicChannel struct{}

func (panicChannel) Name() string { return "panic" }

func (panicChannel) Deliver(context.Context, Intent) error { panic("boom") }

type recordingChannel struct {
	mu  sync.Mutex
	got []Intent
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Deliver(_ context.Context, intent Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, intent)
	return nil
}

func TestPanickingChannelDoesNotAffectOthers(t *testing.T) {
	rec := &recordingChannel{}
	n, err := NewWithChannels(Config{Logger: zerolog.Nop()}, panicChannel{}, rec)
	require.NoError(t, err)

	n.Notify(ActionConsumed{PairID: "pair-1", To: storage.RoleMember1, NavigateTarget: "/activities/sunset-walk"})
	n.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.got, 1)
	assert.Equal(t, KindActionConsumed, rec.got[0].Kind())
}

func TestNoGatewaysDisablesNotifier(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "duet.bolt"))
	require.NoError(t, err)
	defer store.Close()

	n, err := New(Config{Logger: zerolog.Nop()}, store)
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	n.Notify(PartnerReady{PairID: "pair-1", To: storage.RoleMember1})
}
