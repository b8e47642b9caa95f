package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Kind classifies a fetch failure.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindConnectionRefused
	KindDNSFailure
	KindHTTPError
	KindInvalidURL
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection_refused"
	case KindDNSFailure:
		return "dns_failure"
	case KindHTTPError:
		return "http_error"
	case KindInvalidURL:
		return "invalid_url"
	default:
		return "network_error"
	}
}

// Error is returned by Fetch and Probe.
type Error struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPError && e.Status != 0:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	errTooManyRedirects = errors.New("too many redirects")
	errBlockedRedirect  = errors.New("redirect to non-http(s) scheme blocked")
	errNotAbsolute      = errors.New("url must be absolute http or https")
)

// Classify wraps err into an *Error with the matching Kind.
func Classify(rawURL string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	kind := KindNetwork
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, errTooManyRedirects):
		kind = KindHTTPError
	case errors.Is(err, errBlockedRedirect), errors.Is(err, errNotAbsolute):
		kind = KindInvalidURL
	case errors.Is(err, errBlockedAddress), errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	case errors.As(err, &dnsErr):
		kind = KindDNSFailure
		if dnsErr.IsTimeout {
			kind = KindTimeout
		}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Op == "parse" {
			kind = KindInvalidURL
		}
	}

	return &Error{Kind: kind, URL: rawURL, Err: err}
}

// ValidateURL parses raw and requires an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, URL: raw, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{Kind: KindInvalidURL, URL: raw, Err: errNotAbsolute}
	}
	return u, nil
}
