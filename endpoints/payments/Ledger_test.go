package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasValidAccess(t *testing.T) {
	ledger := newFakeLedger(t)
	art := newTestRuntime(t, "", ledger.srv.URL)

	t.Run("no record", func(t *testing.T) {
		valid, _, err := hasValidAccess(art, art.Context, "254712345678")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("expired a second ago", func(t *testing.T) {
		ledger.grant(time.Now().Add(-time.Second))
		valid, _, err := hasValidAccess(art, art.Context, "254712345678")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("expires well in the past", func(t *testing.T) {
		ledger.grant(time.Now().Add(-2 * time.Hour))
		valid, _, err := hasValidAccess(art, art.Context, "254712345678")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("still valid", func(t *testing.T) {
		expires := time.Now().Add(time.Hour)
		ledger.grant(expires)
		valid, got, err := hasValidAccess(art, art.Context, "254712345678")
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, expires.Format(ledgerTimeLayout), got.Format(ledgerTimeLayout))
	})

	t.Run("barely valid", func(t *testing.T) {
		ledger.grant(time.Now().Add(2 * time.Second))
		valid, _, err := hasValidAccess(art, art.Context, "254712345678")
		require.NoError(t, err)
		assert.True(t, valid)
	})
}

func TestRecordGrantComputesExpiry(t *testing.T) {
	ledger := newFakeLedger(t)
	art := newTestRuntime(t, "", ledger.srv.URL)

	now := time.Now()

	expires, err := recordGrant(art, art.Context, "254712345678", 20, now)
	require.NoError(t, err)
	assert.True(t, expires.Equal(now.Add(5*time.Hour)), "expiry must be exactly now+5h")

	expires, err = recordGrant(art, art.Context, "254712345678", 100, now)
	require.NoError(t, err)
	assert.True(t, expires.Equal(now.Add(168*time.Hour)), "expiry must be exactly now+168h")

	_, saves := ledger.counts()
	assert.Equal(t, 2, saves)

	save := ledger.lastSave(t)
	assert.Equal(t, "save", save["action"])
	assert.Equal(t, "254712345678", save["phone"])
	assert.EqualValues(t, 100, save["amount"])
	assert.Equal(t, now.Add(168*time.Hour).Format(ledgerTimeLayout), save["expires_at"])
	assert.Equal(t, now.Format(ledgerTimeLayout), save["timestamp"])
}

func TestRecordGrantUnknownTier(t *testing.T) {
	ledger := newFakeLedger(t)
	art := newTestRuntime(t, "", ledger.srv.URL)

	_, err := recordGrant(art, art.Context, "254712345678", 999, time.Now())
	require.Error(t, err)

	_, saves := ledger.counts()
	assert.Zero(t, saves)
}

func TestRecordGrantWriteFailure(t *testing.T) {
	ledger := newFakeLedger(t)
	ledger.saveStatus = 500
	art := newTestRuntime(t, "", ledger.srv.URL)

	_, err := recordGrant(art, art.Context, "254712345678", 20, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger write failed")
}
