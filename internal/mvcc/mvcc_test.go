package mvcc

import (
	"testing"

	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup() (*Layer, *txn.Manager) {
	store := innerstore.New()
	return New(store), txn.NewManager()
}

func strVal(s string) item.Value { return item.NewStringValue([]byte(s)) }

func getStr(t *testing.T, l *Layer, view *txn.ReadView, key string) (string, bool) {
	env, ok := l.Get(view, key)
	if !ok {
		return "", false
	}
	return string(env.Value.(*item.StringValue).Data), true
}

// Scenario 1 (spec.md §8): MVCC repeatable read.
func TestMVCCRepeatableRead(t *testing.T) {
	l, mgr := setup()

	txA, err := mgr.Begin(txn.RepeatableRead)
	require.NoError(t, err)
	l.Set(txA, txA.ID, "k", strVal("v1"))
	mgr.Commit(txA)

	viewV := mgr.NonTransactionalView()

	txB, err := mgr.Begin(txn.RepeatableRead)
	require.NoError(t, err)
	l.Set(txB, txB.ID, "k", strVal("v2"))
	mgr.Commit(txB)

	got, ok := getStr(t, l, viewV, "k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	fresh := mgr.NonTransactionalView()
	got, ok = getStr(t, l, fresh, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

// Scenario 2 (spec.md §8): tombstone visibility.
func TestTombstoneVisibility(t *testing.T) {
	l, mgr := setup()

	txA, _ := mgr.Begin(txn.RepeatableRead)
	l.Set(txA, txA.ID, "k", strVal("v1"))
	mgr.Commit(txA)

	txB, _ := mgr.Begin(txn.RepeatableRead)
	got, ok := getStr(t, l, mgr.GetReadView(txB), "k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	txC, _ := mgr.Begin(txn.RepeatableRead)
	l.Del(txC, txC.ID, "k")
	mgr.Commit(txC)

	got, ok = getStr(t, l, mgr.GetReadView(txB), "k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	fresh := mgr.NonTransactionalView()
	_, ok = l.Get(fresh, "k")
	assert.False(t, ok)
}

// Scenario 3 (spec.md §8): rollback discard.
func TestRollbackDiscard(t *testing.T) {
	l, mgr := setup()

	txA, _ := mgr.Begin(txn.RepeatableRead)
	env := l.Set(txA, txA.ID, "k", strVal("v1"))
	mgr.NoteInstalled(txA, "k", env)

	txB, _ := mgr.Begin(txn.RepeatableRead)
	viewB := mgr.GetReadView(txB)

	mgr.Rollback(txA)

	_, ok := l.Get(viewB, "k")
	assert.False(t, ok)
}

func TestReadCommittedSeesLatestEachCall(t *testing.T) {
	l, mgr := setup()

	txA, _ := mgr.Begin(txn.RepeatableRead)
	l.Set(txA, txA.ID, "k", strVal("v1"))
	mgr.Commit(txA)

	txB, err := mgr.Begin(txn.ReadCommitted)
	require.NoError(t, err)

	got, ok := getStr(t, l, mgr.GetReadView(txB), "k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	txC, _ := mgr.Begin(txn.RepeatableRead)
	l.Set(txC, txC.ID, "k", strVal("v2"))
	mgr.Commit(txC)

	got, ok = getStr(t, l, mgr.GetReadView(txB), "k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestSerializableRejected(t *testing.T) {
	_, mgr := setup()
	_, err := mgr.Begin(txn.Serializable)
	assert.Error(t, err)
}
