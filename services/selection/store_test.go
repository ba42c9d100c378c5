package selection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omnipool/native/chains"
	"omnipool/storage"
)

func TestOpenDefaultsToRegistryDefault(t *testing.T) {
	store, err := Open(chains.Default(), storage.NewMemDB())
	require.NoError(t, err)
	require.Equal(t, chains.Moonbeam, store.Current().ID)
}

func TestSetPersistsAndRestores(t *testing.T) {
	db := storage.NewMemDB()
	store, err := Open(chains.Default(), db)
	require.NoError(t, err)

	chain, err := store.Set(chains.Base)
	require.NoError(t, err)
	require.Equal(t, "Base", chain.Name)

	raw, err := db.Get([]byte(SelectedChainKey))
	require.NoError(t, err)
	require.Equal(t, "8453", string(raw))

	restored, err := Open(chains.Default(), db)
	require.NoError(t, err)
	require.Equal(t, chains.Base, restored.Current().ID)
}

func TestOpenIgnoresInvalidPersistedValue(t *testing.T) {
	for _, value := range []string{"not-a-number", "10"} {
		db := storage.NewMemDB()
		require.NoError(t, db.Put([]byte(SelectedChainKey), []byte(value)))
		store, err := Open(chains.Default(), db)
		require.NoError(t, err)
		require.Equal(t, chains.Moonbeam, store.Current().ID, value)
	}
}

func TestSetRejectsUnsupportedChain(t *testing.T) {
	store, err := Open(chains.Default(), storage.NewMemDB())
	require.NoError(t, err)
	_, err = store.Set(1)
	require.True(t, errors.Is(err, chains.ErrUnsupportedChain))
	require.Equal(t, chains.Moonbeam, store.Current().ID)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store, err := Open(chains.Default(), storage.NewMemDB(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	updates, cancel := store.Subscribe()
	defer cancel()

	_, err = store.Set(chains.Moonbeam)
	require.NoError(t, err)
	select {
	case <-updates:
		t.Fatalf("re-selecting the current chain must not notify")
	default:
	}

	_, err = store.Set(chains.Base)
	require.NoError(t, err)
	_, err = store.Set(chains.Moonbeam)
	require.NoError(t, err)

	select {
	case snap := <-updates:
		require.Equal(t, chains.Moonbeam, snap.Chain.ID, "slow subscriber sees the latest value")
		require.Equal(t, fixed, snap.UpdatedAt)
	case <-time.After(time.Second):
		t.Fatalf("no update received")
	}

	cancel()
	_, err = store.Set(chains.Base)
	require.NoError(t, err)
	select {
	case <-updates:
		t.Fatalf("cancelled subscription received an update")
	default:
	}
}
