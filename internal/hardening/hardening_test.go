package hardening

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
)

type monitorSpy struct {
	mu     sync.Mutex
	events []guardian.Event
}

func (s *monitorSpy) ValidateAction(context.Context, guardian.Action) (guardian.Decision, error) {
	return guardian.Decision{Approved: true}, nil
}

func (s *monitorSpy) MonitorBehavior(_ context.Context, e guardian.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *monitorSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testManager(g guardian.Client) *Manager {
	return NewManager(Config{
		NonceTTL:         15 * time.Minute,
		NonceMaxPerOwner: 64,
		Rules: []Rule{
			{Name: RuleAuthentication, Limit: 5, Window: time.Minute, Burst: 2, Action: ActionBlock},
			{Name: RuleGlobal, Limit: 100, Window: time.Minute, Burst: 20, Action: ActionThrottle},
		},
		SuspiciousAgents:  []string{"sqlmap", "nikto"},
		SuspiciousHeaders: []string{"X-Forwarded-Host"},
		HistorySize:       50,
		AnomalyThreshold:  0.7,
		GeoMaxSpeedKmh:    900,
		EventCapacity:     100,
		Guardian:          g,
	})
}

func TestComprehensiveCheckCleanRequest(t *testing.T) {
	m := testManager(nil)

	report := m.ComprehensiveCheck(context.Background(), CheckRequest{
		Identifier: "10.0.0.1",
		Rule:       RuleGlobal,
		IP:         "10.0.0.1",
		UserAgent:  "Mozilla/5.0",
		Endpoint:   "/oauth2/authorize",
		Headers:    map[string]string{"Accept": "*/*"},
	})
	assert.Equal(t, ActionAllow, report.Action)
	assert.False(t, report.Critical)
	assert.Empty(t, report.Reasons)
}

func TestComprehensiveCheckReplayIsCritical(t *testing.T) {
	m := testManager(nil)
	ctx := context.Background()

	nonce, err := m.Nonces.Generate("alice", "/oauth2/token")
	require.NoError(t, err)

	req := CheckRequest{
		Identifier: "10.0.0.1",
		Rule:       RuleGlobal,
		Nonce:      nonce,
		NonceOwner: "alice",
		IP:         "10.0.0.1",
		UserAgent:  "Mozilla/5.0",
		Endpoint:   "/oauth2/token",
	}

	report := m.ComprehensiveCheck(ctx, req)
	assert.Equal(t, ActionAllow, report.Action)

	// replay: mismo nonce otra vez
	report = m.ComprehensiveCheck(ctx, req)
	assert.Equal(t, ActionBlock, report.Action)
	assert.True(t, report.Critical)
	assert.Equal(t, NonceUnknown, report.Nonce)

	events := m.Events.Snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "replay_detected", events[len(events)-1].Type)
	assert.Equal(t, ThreatCritical, events[len(events)-1].ThreatLevel)
}

func TestComprehensiveCheckScannerBlocked(t *testing.T) {
	m := testManager(nil)

	report := m.ComprehensiveCheck(context.Background(), CheckRequest{
		Identifier: "10.0.0.66",
		Rule:       RuleGlobal,
		IP:         "10.0.0.66",
		UserAgent:  "sqlmap/1.7",
		Endpoint:   "/oauth2/token",
	})
	assert.Equal(t, ActionBlock, report.Action)
	assert.True(t, report.Critical)
	assert.Contains(t, report.Reasons, "analysis:suspicious_agent")
}

func TestComprehensiveCheckMostSevereWins(t *testing.T) {
	m := testManager(nil)
	ctx := context.Background()

	// headers sospechosos solos: throttle
	report := m.ComprehensiveCheck(ctx, CheckRequest{
		Identifier: "10.0.0.2",
		Rule:       RuleGlobal,
		IP:         "10.0.0.2",
		UserAgent:  "Mozilla/5.0",
		Headers:    map[string]string{"X-Forwarded-Host": "evil"},
	})
	assert.Equal(t, ActionThrottle, report.Action)
	assert.False(t, report.Critical)

	// sumado un viaje imposible: block se impone
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Geo.Observe("alice", Location{Lat: 40.4168, Lon: -3.7038, At: base})
	report = m.ComprehensiveCheck(ctx, CheckRequest{
		Identifier: "10.0.0.2",
		Rule:       RuleGlobal,
		IP:         "10.0.0.2",
		UserAgent:  "Mozilla/5.0",
		Headers:    map[string]string{"X-Forwarded-Host": "evil"},
		Subject:    "alice",
		Location:   &Location{Lat: 48.8566, Lon: 2.3522, At: base.Add(10 * time.Minute)},
	})
	assert.Equal(t, ActionBlock, report.Action)
	assert.True(t, report.Critical)
	assert.Contains(t, report.Reasons, "geo:impossible_travel")
}

func TestComprehensiveCheckRateBlockEmitsEvent(t *testing.T) {
	m := testManager(nil)
	ctx := context.Background()

	var last CheckReport
	for i := 0; i < 8; i++ {
		last = m.ComprehensiveCheck(ctx, CheckRequest{
			Identifier: "attacker",
			Rule:       RuleAuthentication,
			IP:         "10.0.0.3",
			UserAgent:  "Mozilla/5.0",
		})
	}
	assert.Equal(t, ActionBlock, last.Action)

	var found bool
	for _, e := range m.Events.Snapshot() {
		if e.Type == "rate_limit_block" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestManagerForwardsEventsToGuardian(t *testing.T) {
	spy := &monitorSpy{}
	m := testManager(spy)

	m.ReportEvent(SecurityEvent{
		Type:        "account_locked",
		ThreatLevel: ThreatHigh,
		Actor:       "alice",
		Action:      "lock",
	})

	require.Eventually(t, func() bool { return spy.count() == 1 }, time.Second, 10*time.Millisecond)
	spy.mu.Lock()
	defer spy.mu.Unlock()
	assert.Equal(t, "account_locked", spy.events[0].Type)
	assert.False(t, spy.events[0].At.IsZero())
}

func TestEventLogRingWrap(t *testing.T) {
	l := NewEventLog(3)
	for i := 0; i < 5; i++ {
		l.Append(SecurityEvent{Type: string(rune('a' + i))})
	}
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].Type)
	assert.Equal(t, "d", snap[1].Type)
	assert.Equal(t, "e", snap[2].Type)
	assert.Equal(t, 3, l.Len())
}

func TestManagerSweep(t *testing.T) {
	m := testManager(nil)
	_, err := m.Nonces.Generate("alice", "/x")
	require.NoError(t, err)

	nonces, blocks := m.Sweep()
	assert.Zero(t, nonces) // nada vencido todavía
	assert.Zero(t, blocks)
}
