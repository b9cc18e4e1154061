package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityLog_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := &ActivityLog{Dir: dir}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	issued, err := json.Marshal(CredentialIssuedEvent{EventID: 1, AttendeeID: 7, Email: "a@example.com", Token: "SECRET-TOKEN", ExpiresAt: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	claimed, err := json.Marshal(ResourceClaimedEvent{EventID: 1, AttendeeID: 7, Resource: "lunch", Remaining: 4, Total: 10, Location: "hall A"})
	require.NoError(t, err)

	require.NoError(t, l.Write(QueueCredentialIssued, issued, now))
	require.NoError(t, l.Write(QueueResourceClaimed, claimed, now))

	data, err := os.ReadFile(filepath.Join(dir, "activity.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Credential issued | event_id=1 | attendee_id=7")
	assert.NotContains(t, string(data), "SECRET-TOKEN")
	assert.Contains(t, lines[1], "resource=lunch | remaining=4/10")
	assert.True(t, strings.HasPrefix(lines[1], "[2026-03-01T09:00:00Z]"))
}

func TestFormatLine_Errors(t *testing.T) {
	now := time.Now()
	_, err := formatLine("unknown.queue", []byte(`{}`), now)
	assert.Error(t, err)
	_, err = formatLine(QueueCheckedIn, []byte(`not json`), now)
	assert.Error(t, err)

	line, err := formatLine(QueueLowStock, []byte(`{"event_id":3,"resource":"kit","remaining":1,"total":5,"low_threshold":2}`), now)
	require.NoError(t, err)
	assert.Contains(t, line, "Low stock | event_id=3 | resource=kit | remaining=1/5 | threshold=2")
}
