package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneAndClose(t *testing.T) {
	var fired bool
	s := New([]byte("hello"), func(markedForDeletion bool) { fired = true })
	s2 := s.Clone()
	require.Equal(t, 2, s.StrongCount())

	s.Close()
	require.False(t, fired)
	s2.Close()
	require.True(t, fired)
}

func TestCloseIsIdempotent(t *testing.T) {
	var fireCount int
	s := New([]byte("x"), func(markedForDeletion bool) { fireCount++ })
	s.Close()
	s.Close()
	s.Close()
	require.Equal(t, 1, fireCount)
}

func TestDowngradeUpgrade_Unmarked_StrongPresent(t *testing.T) {
	s := New([]byte("x"), func(bool) {})
	w := s.Downgrade()

	up, err := w.Upgrade()
	require.NoError(t, err)
	require.Equal(t, 2, s.StrongCount())
	up.Close()
}

func TestUpgrade_Unmarked_NoStrongLeft(t *testing.T) {
	s := New([]byte("x"), func(bool) {})
	w := s.Downgrade()
	s.Close()

	_, err := w.Upgrade()
	require.ErrorIs(t, err, ErrNoStrongReferencesLeft)
}

func TestUpgrade_Marked_StrongPresent(t *testing.T) {
	s := New([]byte("x"), func(bool) {})
	w := s.Downgrade()
	s.MarkForDeletion()

	_, err := w.Upgrade()
	require.ErrorIs(t, err, ErrDeleted)
}

func TestUpgrade_Marked_NoStrongLeft(t *testing.T) {
	s := New([]byte("x"), func(bool) {})
	w := s.Downgrade()
	s.MarkForDeletion()
	s.Close()

	_, err := w.Upgrade()
	require.ErrorIs(t, err, ErrDeleted)
}

func TestCloneAlwaysAllowedEvenWhenMarked(t *testing.T) {
	s := New([]byte("x"), func(bool) {})
	s.MarkForDeletion()
	clone := s.Clone()
	require.Equal(t, 2, s.StrongCount())
	clone.Close()
	s.Close()
}

func TestDestructorSeesMarkedForDeletionState(t *testing.T) {
	var sawMarked bool
	s := New([]byte("x"), func(markedForDeletion bool) { sawMarked = markedForDeletion })
	s.MarkForDeletion()
	s.Close()
	require.True(t, sawMarked)
}

// TestDestructorDoesNotDeadlockOnHeaderOperations exercises the ordering
// requirement in §4.4: the destructor must not run while the header lock is
// held, so it is free to call back into this handle's own header (e.g. to
// read diagnostics) without deadlocking.
func TestDestructorDoesNotDeadlockOnHeaderOperations(t *testing.T) {
	var s *Strong
	done := make(chan struct{})
	s = New([]byte("x"), func(markedForDeletion bool) {
		// A well-behaved destructor might still want to report the final
		// weak count for diagnostics; this must not deadlock.
		_ = s.WeakCount()
		close(done)
	})
	w := s.Downgrade()
	_ = w

	s.Close()
	<-done
}

func TestWeakCountIsDiagnosticOnly(t *testing.T) {
	s := New([]byte("x"), func(bool) {})
	for i := 0; i < 5; i++ {
		s.Downgrade()
	}
	require.Equal(t, 5, s.WeakCount())
	// weak_count must not keep the destructor from firing.
	var fired bool
	s2 := New([]byte("x"), func(bool) { fired = true })
	s2.Downgrade()
	s2.Close()
	require.True(t, fired)
}

func TestConcurrentCloneAndClose(t *testing.T) {
	var fireCount int
	var mu sync.Mutex
	s := New([]byte("x"), func(bool) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	const n = 50
	var wg sync.WaitGroup
	clones := make([]*Strong, n)
	for i := 0; i < n; i++ {
		clones[i] = s.Clone()
	}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			clones[i].Close()
		}(i)
	}
	wg.Wait()
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fireCount)
}
