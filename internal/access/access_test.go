package access

import (
	"errors"
	"testing"

	"github.com/router-for-me/gatewayconsole/internal/apiconfig"
	"github.com/router-for-me/gatewayconsole/internal/errs"
)

type staticLoader struct {
	doc *apiconfig.Document
	err error
}

func (l staticLoader) Load() (*apiconfig.Document, error) { return l.doc, l.err }

func testDocument() *apiconfig.Document {
	return &apiconfig.Document{APIKeys: []apiconfig.APIKeyEntry{
		{API: "sk-admin", Label: "admin"},
		{API: "sk-user", Label: "team"},
		{API: "sk-lookalike", Label: "superadmin"},
	}}
}

func TestCheck(t *testing.T) {
	doc := testDocument()
	cases := []struct {
		name         string
		credential   string
		requireAdmin bool
		want         error
	}{
		{name: "empty", credential: "  ", requireAdmin: true, want: errs.ErrUnauthorized},
		{name: "unknown admin route", credential: "sk-nope", requireAdmin: true, want: errs.ErrUnauthorized},
		{name: "unknown any route", credential: "sk-nope", requireAdmin: false, want: errs.ErrUnauthorized},
		{name: "user on admin route", credential: "sk-user", requireAdmin: true, want: errs.ErrForbidden},
		{name: "label containing admin is not admin", credential: "sk-lookalike", requireAdmin: true, want: errs.ErrForbidden},
		{name: "user on any route", credential: "sk-user", requireAdmin: false},
		{name: "admin", credential: "sk-admin", requireAdmin: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, err := Check(doc, tc.credential, tc.requireAdmin)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if entry == nil || entry.API != tc.credential {
					t.Fatalf("expected entry for %s, got %+v", tc.credential, entry)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthorize_PropagatesLoadError(t *testing.T) {
	_, err := AuthorizeAdmin(staticLoader{err: apiconfig.ErrNotFound}, "sk-admin")
	if !errors.Is(err, errs.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestAuthorize_ReturnsDocument(t *testing.T) {
	doc := testDocument()
	got, err := AuthorizeAny(staticLoader{doc: doc}, "sk-user")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != doc {
		t.Fatalf("expected loaded document to be returned")
	}
	if _, err := AuthorizeAdmin(staticLoader{doc: doc}, "sk-user"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
