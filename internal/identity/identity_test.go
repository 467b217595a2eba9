package identity

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var mintedID = regexp.MustCompile(`^user_[0-9a-f]{13}$`)

func TestDefault_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		claimed string
		header  string
		cookie  string
		want    string
	}{
		{name: "claim wins", claimed: "user_body", header: "user_header", cookie: "user_cookie", want: "user_body"},
		{name: "header over cookie", header: "user_header", cookie: "user_cookie", want: "user_header"},
		{name: "cookie", cookie: "user_cookie", want: "user_cookie"},
		{name: "blank claim falls through", claimed: "   ", header: "user_header", want: "user_header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/chat", nil)
			if tt.header != "" {
				r.Header.Set(HeaderName, tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, Default{}.Resolve(r, tt.claimed))
		})
	}
}

func TestDefault_MintsWhenAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/chat", nil)
	a := Default{}.Resolve(r, "")
	b := Default{}.Resolve(nil, "")

	assert.Regexp(t, mintedID, a)
	assert.Regexp(t, mintedID, b)
	assert.NotEqual(t, a, b)
}
