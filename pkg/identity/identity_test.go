package identity

import (
	"testing"

	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/types"
)

type fakeStore struct {
	users map[string]types.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]types.User)}
}

func (f *fakeStore) CreateUser(user types.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeStore) GetUser(email string) (types.User, error) {
	u, ok := f.users[email]
	if !ok {
		return types.User{}, errs.New(errs.NotFound, "user %q not found", email)
	}
	return u, nil
}

func (f *fakeStore) DeleteUser(email string) error {
	delete(f.users, email)
	return nil
}

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
}

func TestSignupThenSignin(t *testing.T) {
	svc := NewService(newFakeStore(), testSecret(), "")

	if _, err := svc.Signup("a@x.com", "p", "A", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	_, token, err := svc.Signin("a@x.com", "p")
	if err != nil {
		t.Fatalf("Signin() error = %v", err)
	}

	email, err := svc.TokenEmail(token)
	if err != nil {
		t.Fatalf("TokenEmail() error = %v", err)
	}
	if email != "a@x.com" {
		t.Errorf("TokenEmail() = %q, want a@x.com", email)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeStore(), testSecret(), "")

	if _, err := svc.Signup("a@x.com", "p", "A", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	_, err := svc.Signup("a@x.com", "p2", "A2", "")
	if errs.KindOf(err) != errs.Conflict {
		t.Errorf("Signup() duplicate kind = %v, want Conflict", errs.KindOf(err))
	}
}

func TestSignupWrongSignupKey(t *testing.T) {
	svc := NewService(newFakeStore(), testSecret(), "qwe")

	_, err := svc.Signup("a@x.com", "p", "A", "bad")
	if errs.KindOf(err) != errs.Unauthorized {
		t.Errorf("Signup() bad key kind = %v, want Unauthorized", errs.KindOf(err))
	}
}

func TestSigninUnknownEmailAndWrongPasswordAreUniform(t *testing.T) {
	svc := NewService(newFakeStore(), testSecret(), "")
	if _, err := svc.Signup("a@x.com", "p", "A", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	_, _, unknownErr := svc.Signin("nobody@x.com", "p")
	_, _, wrongPassErr := svc.Signin("a@x.com", "wrong")

	if errs.KindOf(unknownErr) != errs.InvalidCredentials {
		t.Errorf("unknown email kind = %v, want InvalidCredentials", errs.KindOf(unknownErr))
	}
	if errs.KindOf(wrongPassErr) != errs.InvalidCredentials {
		t.Errorf("wrong password kind = %v, want InvalidCredentials", errs.KindOf(wrongPassErr))
	}
	if unknownErr.Error() != wrongPassErr.Error() {
		t.Errorf("messages differ: %q vs %q, want identical (avoid user enumeration)", unknownErr.Error(), wrongPassErr.Error())
	}
}

func TestTokenEmailRejectsTamperedToken(t *testing.T) {
	svc := NewService(newFakeStore(), testSecret(), "")
	_, err := svc.TokenEmail("not.a.jwt")
	if errs.KindOf(err) != errs.Unauthorized {
		t.Errorf("TokenEmail() garbage kind = %v, want Unauthorized", errs.KindOf(err))
	}
}

func TestTokenEmailRejectsWrongSecret(t *testing.T) {
	svc := NewService(newFakeStore(), testSecret(), "")
	if _, err := svc.Signup("a@x.com", "p", "A", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	_, token, err := svc.Signin("a@x.com", "p")
	if err != nil {
		t.Fatalf("Signin() error = %v", err)
	}

	other := NewService(newFakeStore(), []byte("different-secret-different-secret-x"), "")
	if _, err := other.TokenEmail(token); errs.KindOf(err) != errs.Unauthorized {
		t.Errorf("TokenEmail() with wrong secret kind = %v, want Unauthorized", errs.KindOf(err))
	}
}

func TestDeleteUser(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testSecret(), "")
	if _, err := svc.Signup("a@x.com", "p", "A", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if err := svc.DeleteUser("a@x.com"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, ok := store.users["a@x.com"]; ok {
		t.Error("user still present after DeleteUser()")
	}
}
