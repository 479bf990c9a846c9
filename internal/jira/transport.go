package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	jira "github.com/andygrunwald/go-jira"
)

// placeholderBase is the base URL requests are built against. The transport
// swaps it for the instance URL of the account carried by the request context.
const placeholderBase = "https://baseurl/"

// ErrNoAccount is returned for requests made without an account in the context.
var ErrNoAccount = errors.New("no active account")

// Credentials identify one account on one remote instance.
type Credentials struct {
	InstanceURL string
	Username    string
	Token       string
}

type credentialsKey struct{}

// WithAccount returns a context whose requests are sent as creds.
func WithAccount(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

func accountFrom(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey{}).(Credentials)
	return creds, ok
}

// accountTransport rewrites the placeholder host to the account's instance
// and adds HTTP Basic credentials.
type accountTransport struct {
	base http.RoundTripper
}

func (t *accountTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	creds, ok := accountFrom(req.Context())
	if !ok {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, ErrNoAccount
	}

	instance, err := url.Parse(strings.TrimRight(creds.InstanceURL, "/"))
	if err != nil || instance.Host == "" {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("invalid instance url %q", creds.InstanceURL)
	}

	req2 := req.Clone(req.Context())
	u := *req.URL
	u.Scheme = instance.Scheme
	u.Host = instance.Host
	u.Path = instance.Path + u.Path
	if u.RawPath != "" {
		u.RawPath = instance.EscapedPath() + u.RawPath
	}
	req2.URL = &u
	req2.Host = ""

	auth := jira.BasicAuthTransport{
		Username:  creds.Username,
		Password:  creds.Token,
		Transport: t.base,
	}
	return auth.RoundTrip(req2)
}
