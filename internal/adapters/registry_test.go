package adapters

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRegistry_LookupAndNames(t *testing.T) {
	reg := NewMockRegistry()

	a, err := reg.Lookup("walmart")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if a.Name() != "walmart" || a.DisplayName() != "Walmart" {
		t.Fatalf("unexpected adapter: %s / %s", a.Name(), a.DisplayName())
	}

	want := []string{"albertsons", "chefstore", "costco", "walmart"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if got := reg.Supported()["costco"]; got != "Costco" {
		t.Fatalf("Supported()[costco] = %q", got)
	}
}

func TestRegistry_UnsupportedStore(t *testing.T) {
	reg := NewMockRegistry()
	_, err := reg.Lookup("krogers")
	if !errors.Is(err, ErrUnsupportedStore) {
		t.Fatalf("expected ErrUnsupportedStore, got %v", err)
	}
}

func TestMockAdapter_Deterministic(t *testing.T) {
	m := NewMockAdapter("walmart", "Walmart")
	ctx := context.Background()

	first, err := m.FetchAndExtract(ctx, "http://x/1")
	if err != nil {
		t.Fatalf("FetchAndExtract error: %v", err)
	}
	second, err := m.FetchAndExtract(ctx, "http://x/1")
	if err != nil {
		t.Fatalf("FetchAndExtract error: %v", err)
	}
	if first.Price != second.Price || first.Name != second.Name {
		t.Fatalf("mock must be deterministic: %+v vs %+v", first, second)
	}
	if first.Price <= 0 || first.Store != "walmart" {
		t.Fatalf("unexpected mock product: %+v", first)
	}

	other, _ := m.FetchAndExtract(ctx, "http://x/2")
	if other.Price == first.Price && other.Name == first.Name {
		t.Fatal("different urls should yield different products")
	}
}

func TestMockAdapter_CancelledContext(t *testing.T) {
	m := NewMockAdapter("walmart", "Walmart")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.FetchAndExtract(ctx, "http://x/1"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
