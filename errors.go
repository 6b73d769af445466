package owdns

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Kind classifies a gateway error so the HTTP surface and metrics layer can
// switch on it without string matching.
type Kind int

const (
	// KindBadRequest covers malformed wire/JSON queries, unparsable base64url
	// payloads, and missing required parameters.
	KindBadRequest Kind = iota
	// KindBadMedia is returned for a POST to /dns-query with an unsupported or
	// missing Content-Type.
	KindBadMedia
	// KindRoutingError covers a query that matched no rule and has no default
	// group, or (at startup) a rule/default referencing an undeclared group.
	KindRoutingError
	// KindUpstreamFailure is a transport-level failure (timeout, connection
	// refused, TLS handshake failure) from every resolver in a group.
	KindUpstreamFailure
	// KindUpstreamRefused means an upstream answered but with RcodeRefused.
	KindUpstreamRefused
	// KindCachePersistence covers a failed snapshot load or save.
	KindCachePersistence
	// KindURLReloadFailure covers a failed periodic refetch of a URL-backed
	// matcher list.
	KindURLReloadFailure
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindBadMedia:
		return "bad_media"
	case KindRoutingError:
		return "routing_error"
	case KindUpstreamFailure:
		return "upstream_failure"
	case KindUpstreamRefused:
		return "upstream_refused"
	case KindCachePersistence:
		return "cache_persistence"
	case KindURLReloadFailure:
		return "url_reload_failure"
	default:
		return "unknown"
	}
}

// Error is a typed gateway error. Callers that need the kind use
// errors.As(err, &owdns.Error{}) or the Kind helper below.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapError(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// KindOf returns the Kind carried by err and true, or the zero Kind and false
// if err doesn't carry one.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}

// QueryTimeoutError is returned when a query times out against a single
// upstream resolver, before the dispatcher decides whether to retry the next
// one in the group.
type QueryTimeoutError struct {
	query *dns.Msg
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query for '%s' timed out", qName(e.query))
}
