package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoworks/retrofit/pkg/model"
)

func put(t *testing.T, st *MemoryStore, fn func(tx Tx) error) {
	t.Helper()
	require.NoError(t, st.Update(context.Background(), fn))
}

func TestReadsReturnSnapshots(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		return tx.PutAssessment(model.NewAssessment("a1", "alice", "org1"))
	})

	ctx := context.Background()
	a, err := st.GetAssessment(ctx, "a1")
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store.
	a.Name = "mutated"
	a.SharedWith.Add("mallory")

	fresh, err := st.GetAssessment(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, fresh.Name)
	assert.False(t, fresh.IsSharedWith("mallory"))
}

func TestPutStampsVersionAndTimestamps(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		return tx.PutAssessment(model.NewAssessment("a1", "alice", ""))
	})

	ctx := context.Background()
	a, err := st.GetAssessment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Version)
	assert.False(t, a.CreatedAt.IsZero())
	assert.False(t, a.UpdatedAt.IsZero())

	a.Name = "Terrace in Hull"
	put(t, st, func(tx Tx) error { return tx.PutAssessment(a) })

	b, err := st.GetAssessment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Version)
	assert.Equal(t, a.CreatedAt, b.CreatedAt)
	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))
}

func TestStaleWriteConflicts(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		return tx.PutAssessment(model.NewAssessment("a1", "alice", ""))
	})

	ctx := context.Background()
	first, err := st.GetAssessment(ctx, "a1")
	require.NoError(t, err)
	second, err := st.GetAssessment(ctx, "a1")
	require.NoError(t, err)

	first.Name = "winner"
	put(t, st, func(tx Tx) error { return tx.PutAssessment(first) })

	second.Name = "loser"
	err = st.Update(ctx, func(tx Tx) error { return tx.PutAssessment(second) })
	require.Error(t, err)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
}

func TestFailedUpdateAppliesNothing(t *testing.T) {
	st := NewMemoryStore()
	err := st.Update(context.Background(), func(tx Tx) error {
		if err := tx.PutAssessment(model.NewAssessment("a1", "alice", "")); err != nil {
			return err
		}
		return model.ErrBadRequest("abort")
	})
	require.Error(t, err)

	_, err = st.GetAssessment(context.Background(), "a1")
	assert.True(t, model.IsNotFound(err))
}

func TestCancelledContextAbortsCommit(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := st.Update(ctx, func(tx Tx) error {
		if err := tx.PutAssessment(model.NewAssessment("a1", "alice", "")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.Error(t, err)

	_, err = st.GetAssessment(context.Background(), "a1")
	assert.True(t, model.IsNotFound(err))
}

func TestDeleteAssessmentCascadesImages(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		if err := tx.PutAssessment(model.NewAssessment("a1", "alice", "")); err != nil {
			return err
		}
		if err := tx.PutImage(&model.Image{ID: "img1", AssessmentID: "a1", BlobKey: "blob-1"}); err != nil {
			return err
		}
		return tx.PutImage(&model.Image{ID: "img2", AssessmentID: "a1", BlobKey: "blob-2"})
	})

	var blobKeys []string
	put(t, st, func(tx Tx) error {
		var err error
		blobKeys, err = tx.DeleteAssessment("a1")
		return err
	})
	assert.ElementsMatch(t, []string{"blob-1", "blob-2"}, blobKeys)

	ctx := context.Background()
	_, err := st.GetImage(ctx, "img1")
	assert.True(t, model.IsNotFound(err))
	_, err = st.GetAssessment(ctx, "a1")
	assert.True(t, model.IsNotFound(err))
}

func TestDeleteImageClearsFeaturedReference(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		if err := tx.PutAssessment(model.NewAssessment("a1", "alice", "")); err != nil {
			return err
		}
		if err := tx.PutImage(&model.Image{ID: "img1", AssessmentID: "a1", BlobKey: "blob-1"}); err != nil {
			return err
		}
		a, err := tx.GetAssessment("a1")
		if err != nil {
			return err
		}
		a.FeaturedImageID = "img1"
		return tx.PutAssessment(a)
	})

	put(t, st, func(tx Tx) error { return tx.DeleteImage("img1") })

	a, err := st.GetAssessment(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, a.FeaturedImageID)
}

func TestDeleteOrganizationProtectedWhileReferenced(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		if err := tx.PutOrganization(model.NewOrganization("org1", "Retrofit North")); err != nil {
			return err
		}
		return tx.PutAssessment(model.NewAssessment("a1", "alice", "org1"))
	})

	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.DeleteOrganization("org1")
	})
	require.Error(t, err)
	assert.Equal(t, model.KindBadRequest, model.KindOf(err))

	// Removing the assessment in the same transaction releases the
	// protection.
	put(t, st, func(tx Tx) error {
		if _, err := tx.DeleteAssessment("a1"); err != nil {
			return err
		}
		return tx.DeleteOrganization("org1")
	})

	_, err = st.GetOrganization(context.Background(), "org1")
	assert.True(t, model.IsNotFound(err))
}

func TestPutImageRequiresAssessment(t *testing.T) {
	st := NewMemoryStore()
	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.PutImage(&model.Image{ID: "img1", AssessmentID: "missing", BlobKey: "b"})
	})
	require.Error(t, err)
	assert.Equal(t, model.KindBadRequest, model.KindOf(err))
}

func TestPutLibraryRejectsInvalidShape(t *testing.T) {
	st := NewMemoryStore()
	l := model.NewPersonalLibrary("l1", "Walls", "constructions", "alice")
	l.OwnerOrgID = "org1"

	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.PutLibrary(l)
	})
	require.Error(t, err)
	assert.Equal(t, model.KindInvariantViolation, model.KindOf(err))
}

func TestTxLibraryListingsSeeStagedWrites(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		if err := tx.PutLibrary(model.NewPersonalLibrary("l1", "Walls", "walls", "alice")); err != nil {
			return err
		}
		return tx.PutLibrary(model.NewOrganisationLibrary("l2", "Roofs", "roofs", "org1"))
	})

	err := st.Update(context.Background(), func(tx Tx) error {
		if err := tx.PutLibrary(model.NewPersonalLibrary("l3", "Glazing", "glazing", "alice")); err != nil {
			return err
		}
		if err := tx.DeleteLibrary("l1"); err != nil {
			return err
		}

		// The staged write and the staged delete are both visible.
		libs, err := tx.LibrariesByOwnerUser("alice")
		if err != nil {
			return err
		}
		require.Len(t, libs, 1)
		assert.Equal(t, "l3", libs[0].ID)

		libs, err = tx.LibrariesByOwnerOrg("org1")
		if err != nil {
			return err
		}
		require.Len(t, libs, 1)
		assert.Equal(t, "l2", libs[0].ID)

		globals, err := tx.GlobalLibraries()
		if err != nil {
			return err
		}
		assert.Empty(t, globals)
		return nil
	})
	require.NoError(t, err)
}

func TestListingsOrderedByID(t *testing.T) {
	st := NewMemoryStore()
	put(t, st, func(tx Tx) error {
		for _, id := range []string{"c", "a", "b"} {
			if err := tx.PutAssessment(model.NewAssessment(id, "alice", "org1")); err != nil {
				return err
			}
		}
		return nil
	})

	list, err := st.AssessmentsByOwner(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)
}

func TestPageSlice(t *testing.T) {
	tests := []struct {
		name   string
		page   Page
		n      int
		lo, hi int
	}{
		{"zero page returns all", Page{}, 5, 0, 5},
		{"limit caps", Page{Limit: 2}, 5, 0, 2},
		{"offset skips", Page{Offset: 3}, 5, 3, 5},
		{"offset beyond end", Page{Offset: 9}, 5, 5, 5},
		{"offset and limit", Page{Offset: 1, Limit: 2}, 5, 1, 3},
		{"limit past end", Page{Offset: 4, Limit: 10}, 5, 4, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := tt.page.Slice(tt.n)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}
