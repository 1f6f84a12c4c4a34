package session

import (
	"context"
	"testing"

	"RelayGate/service/registry"

	"github.com/pkg/errors"
)

type fakeStore struct {
	phones map[string]string
	auths  map[string]string
	err    error
}

func (f *fakeStore) LookupPhone(_ context.Context, phone string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.phones[phone]
	return id, ok, nil
}

func (f *fakeStore) LookupAuth(_ context.Context, authID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.auths[authID]
	return id, ok, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Entry{
		{ID: "worker-1", URL: "ws://10.0.0.11:9001/events"},
		{ID: "worker-2", URL: "ws://10.0.0.12:9001/events"},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func TestResolvePhoneHit(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{phones: map[string]string{"15500001111": "worker-2"}}, reg)

	e := r.Resolve(context.Background(), ResolveInput{Phone: "15500001111"})
	if e.ID != "worker-2" {
		t.Errorf("phone hit resolved to %q, want worker-2", e.ID)
	}
}

func TestResolvePhoneBeatsAuth(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{
		phones: map[string]string{"15500001111": "worker-2"},
		auths:  map[string]string{"u1": "worker-1"},
	}, reg)

	e := r.Resolve(context.Background(), ResolveInput{Phone: "15500001111", AuthID: "u1"})
	if e.ID != "worker-2" {
		t.Errorf("resolved to %q, want phone mapping worker-2", e.ID)
	}
}

func TestResolveAuthHit(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{auths: map[string]string{"u1": "worker-2"}}, reg)

	e := r.Resolve(context.Background(), ResolveInput{AuthID: "u1"})
	if e.ID != "worker-2" {
		t.Errorf("auth hit resolved to %q, want worker-2", e.ID)
	}
}

func TestResolveFallbackOnNoRecord(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{}, reg)

	e := r.Resolve(context.Background(), ResolveInput{Phone: "000", AuthID: "nobody"})
	if e.ID != "worker-1" {
		t.Errorf("resolved to %q, want fallback worker-1", e.ID)
	}
}

func TestResolveFallbackOnEmptyInput(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{}, reg)

	e := r.Resolve(context.Background(), ResolveInput{})
	if e.ID != "worker-1" {
		t.Errorf("resolved to %q, want fallback worker-1", e.ID)
	}
}

func TestResolveFallbackOnUnknownBackendID(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{phones: map[string]string{"155": "gone-worker"}}, reg)

	e := r.Resolve(context.Background(), ResolveInput{Phone: "155"})
	if e.ID != "worker-1" {
		t.Errorf("resolved to %q, want fallback worker-1", e.ID)
	}
}

func TestResolveFallbackOnStoreError(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(&fakeStore{err: errors.New("store down")}, reg)

	e := r.Resolve(context.Background(), ResolveInput{Phone: "155", AuthID: "u1"})
	if e.ID != "worker-1" {
		t.Errorf("resolved to %q, want fallback worker-1", e.ID)
	}
}

func TestResolveNilStoreFallsBack(t *testing.T) {
	reg := testRegistry(t)
	r := NewResolver(nil, reg)

	e := r.Resolve(context.Background(), ResolveInput{Phone: "155"})
	if e.ID != "worker-1" {
		t.Errorf("resolved to %q, want fallback worker-1", e.ID)
	}
}
