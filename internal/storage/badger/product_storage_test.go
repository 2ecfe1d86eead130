package badger

import (
	"context"
	"testing"

	"github.com/ternarybob/catena/internal/models"
)

func TestUpsertProductKeepsIdentity(t *testing.T) {
	store := newTestManager(t).ProductStorage()
	ctx := context.Background()

	first := &models.Product{
		NaturalKey: "owner-1:supplier:REF-1",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget",
		Reference:  "REF-1",
		Price:      5.00,
	}
	if err := store.UpsertProduct(ctx, first); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("New product must be assigned an ID")
	}

	// Replayed import row: same natural key, updated fields
	replay := &models.Product{
		NaturalKey: "owner-1:supplier:REF-1",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget v2",
		Reference:  "REF-1",
		Price:      5.50,
	}
	if err := store.UpsertProduct(ctx, replay); err != nil {
		t.Fatalf("Replayed upsert failed: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("Replayed upsert changed identity: %s -> %s", first.ID, replay.ID)
	}

	count, err := store.CountByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("CountByOwner = %d after replay, want 1", count)
	}

	got, err := store.GetProductByKey(ctx, "owner-1:supplier:REF-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Widget v2" || got.Price != 5.50 {
		t.Errorf("Replayed fields not applied: %+v", got)
	}
}

func TestUpsertProductPreservesEnrichmentStatus(t *testing.T) {
	store := newTestManager(t).ProductStorage()
	ctx := context.Background()

	p := &models.Product{
		NaturalKey: "owner-1:supplier:REF-2",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget",
	}
	if err := store.UpsertProduct(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := store.SetEnrichmentStatus(ctx, p.ID, models.EnrichmentStatusEnriched, ""); err != nil {
		t.Fatal(err)
	}

	// A re-import without an explicit status keeps the enriched state
	replay := &models.Product{
		NaturalKey: "owner-1:supplier:REF-2",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget",
	}
	if err := store.UpsertProduct(ctx, replay); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetProductByKey(ctx, "owner-1:supplier:REF-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.EnrichmentStatus != models.EnrichmentStatusEnriched {
		t.Errorf("EnrichmentStatus = %s after replay, want enriched", got.EnrichmentStatus)
	}
}

func TestFindByNormalizedEANExcludesOwnDataset(t *testing.T) {
	store := newTestManager(t).ProductStorage()
	ctx := context.Background()

	for _, p := range []*models.Product{
		{NaturalKey: "o:supplier:1", OwnerID: "o", Source: "supplier", Name: "A", NormalizedEAN: "4006381333931"},
		{NaturalKey: "o:marketplace:1", OwnerID: "o", Source: "marketplace", Name: "B", NormalizedEAN: "4006381333931"},
		{NaturalKey: "o:analysis:1", OwnerID: "o", Source: "analysis", Name: "C", NormalizedEAN: "4006381333931"},
	} {
		if err := store.UpsertProduct(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := store.FindByNormalizedEAN(ctx, "4006381333931", "supplier")
	if err != nil {
		t.Fatalf("FindByNormalizedEAN failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Found %d matches, want 2 (own dataset excluded)", len(matches))
	}
	for _, m := range matches {
		if m.Source == "supplier" {
			t.Errorf("Match from excluded dataset: %+v", m)
		}
	}

	none, err := store.FindByNormalizedEAN(ctx, "", "supplier")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Error("Empty EAN must match nothing")
	}
}

func TestListPageCursor(t *testing.T) {
	store := newTestManager(t).ProductStorage()
	ctx := context.Background()

	ids := []string{"p-01", "p-02", "p-03", "p-04", "p-05"}
	for i, id := range ids {
		p := &models.Product{
			NaturalKey: "o:supplier:" + id,
			ID:         id,
			OwnerID:    "o",
			Source:     "supplier",
			Name:       "Record " + ids[i],
		}
		if err := store.UpsertProduct(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.ListPage(ctx, "o", "", 2)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != "p-01" || page[1].ID != "p-02" {
		t.Fatalf("First page wrong: %+v", page)
	}

	page, err = store.ListPage(ctx, "o", "p-02", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "p-03" {
		t.Fatalf("Cursor page wrong: %+v", page)
	}

	page, err = store.ListPage(ctx, "o", "p-05", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 0 {
		t.Errorf("Page past the end has %d records", len(page))
	}
}

func TestListByOwnerOffsetSlicing(t *testing.T) {
	store := newTestManager(t).ProductStorage()
	ctx := context.Background()

	for _, id := range []string{"p-01", "p-02", "p-03", "p-04", "p-05"} {
		p := &models.Product{
			NaturalKey: "o:supplier:" + id,
			ID:         id,
			OwnerID:    "o",
			Source:     "supplier",
			Name:       "Record " + id,
		}
		if err := store.UpsertProduct(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	slice, err := store.ListByOwner(ctx, "o", 1, 2)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(slice) != 2 || slice[0].ID != "p-02" || slice[1].ID != "p-03" {
		t.Fatalf("Offset slice wrong: %+v", slice)
	}

	// Same offset replays the same rows
	replay, err := store.ListByOwner(ctx, "o", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if replay[0].ID != slice[0].ID || replay[1].ID != slice[1].ID {
		t.Error("Replayed offset returned different rows")
	}

	tail, err := store.ListByOwner(ctx, "o", 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].ID != "p-05" {
		t.Errorf("Tail slice wrong: %+v", tail)
	}

	past, err := store.ListByOwner(ctx, "o", 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Errorf("Past-the-end slice has %d records", len(past))
	}
}
