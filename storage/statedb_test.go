package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/internal/testutil"
	"github.com/tolelom/nftescrow/storage"
)

func testAddress(t *testing.T) crypto.Address {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub.Address()
}

func TestStateDBAccountDefaultsToZero(t *testing.T) {
	s := testutil.NewStateDB()
	addr := testAddress(t)

	acc, err := s.GetAccount(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, acc.Address)
	assert.Zero(t, acc.Balance)
	assert.Nil(t, acc.Holding(1))
}

func TestStateDBSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	addr := testAddress(t)

	require.NoError(t, s.SetAccount(&core.Account{Address: addr, Balance: 100}))
	snap, err := s.Snapshot()
	require.NoError(t, err)

	require.NoError(t, s.SetAccount(&core.Account{Address: addr, Balance: 5}))
	id, err := s.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	require.NoError(t, s.RevertToSnapshot(snap))

	acc, err := s.GetAccount(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)

	// The id counter is part of the reverted write buffer.
	id, err = s.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestStateDBApplicationRoundTrip(t *testing.T) {
	s := testutil.NewStateDB()
	app := &core.Application{
		ID:           3,
		GlobalSchema: core.StateSchema{NumUint: 5, NumByteSlice: 5},
		GlobalState: map[string]core.Value{
			"ASA_ID": {Type: core.ValueUint, Uint: 9},
		},
	}
	require.NoError(t, s.SetApplication(app))

	got, err := s.GetApplication(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.GlobalState["ASA_ID"].Uint)

	require.NoError(t, s.DeleteApplication(3))
	_, err = s.GetApplication(3)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStateDBRootIsStableAcrossCommit(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	require.NoError(t, s.SetAsset(&core.Asset{ID: 1, Params: core.AssetParams{Total: 1}}))

	before := s.ComputeRoot()
	require.NoError(t, s.Commit())
	assert.Equal(t, before, s.ComputeRoot())

	reopened := storage.NewStateDB(db)
	assert.Equal(t, before, reopened.ComputeRoot())
}

func TestLevelDBBlockStore(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "chain"))
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewBlockStore(db)
	tip, err := store.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	block := core.NewBlock(1, "00", pub.Hex())
	block.Header.TxRoot = core.ComputeTxRoot(nil)
	block.Sign(priv)
	require.NoError(t, store.CommitBlock(block))

	tip, err = store.GetTip()
	require.NoError(t, err)
	assert.Equal(t, block.Hash, tip)

	got, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, got.Hash)

	_, err = store.GetBlockByHeight(2)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
