package aggregate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/seantiz/outletwatch/internal/model"
)

func TestClaimCommitSeal(t *testing.T) {
	a := New(2)
	s1, err := a.Claim("a")
	require.NoError(t, err)
	s2, err := a.Claim("b")
	require.NoError(t, err)
	assert.Equal(t, "b", s2.OutletID())
	assert.Equal(t, 0, a.Len())

	require.NoError(t, s2.Commit(model.Result{Status: "Online"}))
	require.NoError(t, s1.Commit(model.Result{Status: "Offline"}))

	assert.True(t, a.Resolved("a"))
	assert.Equal(t, 2, a.Len())

	got := a.Seal()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].OutletID, "results are kept in arrival order")
	assert.Equal(t, "a", got[1].OutletID)
}

func TestDuplicateClaimRejected(t *testing.T) {
	a := New(1)
	_, err := a.Claim("a")
	require.NoError(t, err)
	_, err = a.Claim("a")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSecondCommitRejected(t *testing.T) {
	a := New(1)
	s, err := a.Claim("a")
	require.NoError(t, err)

	require.NoError(t, s.Commit(model.Result{Status: "Online"}))
	assert.ErrorIs(t, s.Commit(model.Result{Status: "Offline"}), ErrCommitted)

	got := a.Seal()
	require.Len(t, got, 1)
	assert.Equal(t, "Online", got[0].Status)
}

func TestCommitForcesSlotOutletID(t *testing.T) {
	a := New(1)
	s, _ := a.Claim("a")
	require.NoError(t, s.Commit(model.Result{OutletID: "someone-else", Status: "Online"}))
	assert.Equal(t, "a", a.Seal()[0].OutletID)
}

func TestWritesAfterSealRejected(t *testing.T) {
	a := New(2)
	s, _ := a.Claim("a")
	a.Seal()

	assert.ErrorIs(t, s.Commit(model.Result{}), ErrSealed)
	_, err := a.Claim("b")
	assert.ErrorIs(t, err, ErrSealed)
	assert.Empty(t, a.Seal())
}

func TestSealReturnsCopy(t *testing.T) {
	a := New(1)
	s, _ := a.Claim("a")
	require.NoError(t, s.Commit(model.Result{Status: "Online"}))

	first := a.Seal()
	first[0].Status = "mutated"
	assert.Equal(t, "Online", a.Seal()[0].Status)
}

func TestConcurrentCommits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		writers := rapid.IntRange(1, 8).Draw(t, "writers")

		a := New(n)
		slots := make([]*Slot, n)
		for i := range slots {
			s, err := a.Claim(fmt.Sprintf("outlet-%d", i))
			if err != nil {
				t.Fatalf("Claim: %v", err)
			}
			slots[i] = s
		}

		var wg sync.WaitGroup
		for w := range writers {
			wg.Go(func() {
				// Every writer tries every slot; exactly one commit per slot may win.
				for i := range slots {
					_ = slots[(i+w)%len(slots)].Commit(model.Result{Status: "Online"})
				}
			})
		}
		wg.Wait()

		got := a.Seal()
		if len(got) != n {
			t.Fatalf("len = %d, want %d", len(got), n)
		}
		seen := make(map[string]bool, n)
		for _, r := range got {
			if seen[r.OutletID] {
				t.Fatalf("duplicate result for %s", r.OutletID)
			}
			seen[r.OutletID] = true
		}
	})
}
