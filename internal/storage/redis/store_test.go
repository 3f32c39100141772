package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

func TestStoreReadWrite(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	client, err := NewClient(Config{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, "jobhunt:")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Read(ctx, "ledger.tsv")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.WriteAtomic(ctx, "ledger.tsv", []byte("https://a.example/apply\n")))
	got, err := store.Read(ctx, "ledger.tsv")
	require.NoError(t, err)
	require.Equal(t, "https://a.example/apply\n", string(got))

	raw, err := server.Get("jobhunt:ledger.tsv")
	require.NoError(t, err)
	require.Equal(t, "https://a.example/apply\n", raw)
}

func TestNewClientRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	_, err = New((*goredis.Client)(nil), "")
	require.Error(t, err)
}
