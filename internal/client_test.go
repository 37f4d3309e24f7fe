package formrelay

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminClientRoundTrip(t *testing.T) {
	tr := setupRelay(t, WithAdminToken("tok"))
	tr.ledger.CheckAndRecord("alice+jobs@example.com", t0)
	tr.ledger.CheckAndRecord("bob@example.com", t0)

	srv := httptest.NewServer(tr.handler)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	c := NewAdminClient(srv.URL+"/", "tok")

	counts, err := c.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice+jobs@example.com": 1, "bob@example.com": 1}, counts)

	st, err := c.Limit(ctx, "alice+jobs@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice+jobs@example.com", st.Identity)
	assert.Equal(t, 1, st.Submitted)
	assert.Equal(t, 2, st.Remaining)
	require.NotNil(t, st.HoursUntilReset)
	assert.Equal(t, 24, *st.HoursUntilReset)

	msg, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Email submission counts reset successfully", msg)
	assert.Empty(t, tr.ledger.Snapshot())
}

func TestAdminClientUnauthorized(t *testing.T) {
	tr := setupRelay(t, WithAdminToken("tok"))
	srv := httptest.NewServer(tr.handler)
	t.Cleanup(srv.Close)

	_, err := NewAdminClient(srv.URL, "wrong").Counts(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
	assert.Contains(t, err.Error(), "401")
}
