package session

import (
	"context"
	"errors"
	"testing"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/testutil"
)

type mockSessionStore struct {
	getSessionFn func(ctx context.Context, token string) (domain.User, error)
}

func (m *mockSessionStore) GetSession(ctx context.Context, token string) (domain.User, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, token)
	}
	return domain.User{}, store.ErrNotFound
}

func TestResolve_EmptyToken(t *testing.T) {
	r := NewResolver(&mockSessionStore{})
	_, err := r.Resolve(testutil.TestContext(t), "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolve_UnknownToken(t *testing.T) {
	r := NewResolver(&mockSessionStore{})
	_, err := r.Resolve(testutil.TestContext(t), "expired-token")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolve_StoreError(t *testing.T) {
	boom := errors.New("db down")
	r := NewResolver(&mockSessionStore{
		getSessionFn: func(ctx context.Context, token string) (domain.User, error) {
			return domain.User{}, boom
		},
	})
	_, err := r.Resolve(testutil.TestContext(t), "token")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want store error to pass through", err)
	}
}

func TestResolve_LiveSession(t *testing.T) {
	want := domain.User{
		Name:         "alice",
		Email:        "alice@example.org",
		Capabilities: []string{domain.CapOperator},
	}
	r := NewResolver(&mockSessionStore{
		getSessionFn: func(ctx context.Context, token string) (domain.User, error) {
			if token != "live-token" {
				t.Errorf("token = %q", token)
			}
			return want, nil
		},
	})

	user, err := r.Resolve(testutil.TestContext(t), "live-token")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if user.Name != "alice" || !user.Can(domain.CapOperator) {
		t.Errorf("user = %+v", user)
	}
}
