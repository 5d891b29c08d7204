package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

func TestStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sqlite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := []struct {
		name  string
		store Store
	}{
		{name: "memory", store: NewMemoryStore()},
		{name: "sqlite", store: sqlite},
	}

	for _, tt := range stores {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.store.Get(ctx)
			require.ErrorIs(t, err, ErrNoSession)

			first := model.AccessSession{AccessToken: "a1", RefreshToken: "r1", SubjectID: "u1", Role: "user"}
			require.NoError(t, tt.store.Set(ctx, first))
			got, err := tt.store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, first, got)

			second := first
			second.AccessToken = "a2"
			require.NoError(t, tt.store.Set(ctx, second))
			got, err = tt.store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "a2", got.AccessToken)

			require.NoError(t, tt.store.Clear(ctx))
			_, err = tt.store.Get(ctx)
			assert.ErrorIs(t, err, ErrNoSession)
		})
	}
}
