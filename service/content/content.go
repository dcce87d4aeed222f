package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/SplitFi/go-oasis/service/persist"
)

// URIScheme is the scheme prefix of content references handed out by the pipeline
const URIScheme = "ipfs://"

// ErrNotFound is returned when an identifier is unknown to a store
var ErrNotFound = errors.New("content not found")

// ErrCIDMismatch is returned when bytes served for an identifier do not hash to it
var ErrCIDMismatch = errors.New("content does not match its identifier")

// Getter retrieves content by identifier
type Getter interface {
	// Get returns the bytes addressed by c. It fails with ErrNotFound when c is unknown to the store
	// and with ErrStoreUnavailable when the backing service cannot be reached.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}

// Store is an idempotent content addressed blob store
type Store interface {
	Getter
	// Put stores data and returns its identifier. Storing identical bytes again returns the same
	// identifier without storing a second copy. A failed Put never returns an identifier.
	Put(ctx context.Context, data []byte) (cid.Cid, error)
}

// ErrStoreUnavailable is returned when the backing service failed in transport or rejected the
// request. The operation is safe to retry.
type ErrStoreUnavailable struct {
	Op  string
	Err error
}

func (e ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("content store unavailable during %s: %s", e.Op, e.Err)
}

func (e ErrStoreUnavailable) Unwrap() error {
	return e.Err
}

// ErrInvalidURI is returned when a reference cannot be turned into an identifier
type ErrInvalidURI struct {
	URI string
	Err error
}

func (e ErrInvalidURI) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid content URI: %q", e.URI)
	}
	return fmt.Sprintf("invalid content URI %q: %s", e.URI, e.Err)
}

func (e ErrInvalidURI) Unwrap() error {
	return e.Err
}

// IsUnavailable returns whether err is a transient store failure
func IsUnavailable(err error) bool {
	var u ErrStoreUnavailable
	return errors.As(err, &u)
}

// ComputeCID returns the CIDv1 of data using the raw codec and a sha2-256 multihash
func ComputeCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Verify checks that data hashes to c. Only identifiers of single raw blocks can be checked
// locally, anything else is accepted as is.
func Verify(c cid.Cid, data []byte) error {
	if c.Type() != cid.Raw {
		return nil
	}
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return err
	}
	if !got.Equals(c) {
		return ErrCIDMismatch
	}
	return nil
}

// FormatURI returns the content reference for c
func FormatURI(c cid.Cid) string {
	return URIScheme + c.String()
}

// ParseURI extracts the identifier from a content reference. It accepts ipfs://<cid>,
// ipfs:<cid>, ipfs://ipfs/<cid>, gateway URLs of the form <host>/ipfs/<cid> and bare identifiers.
// References into a directory are rejected, use SplitURI to keep the path.
func ParseURI(uri string) (cid.Cid, error) {
	c, path, err := SplitURI(uri)
	if err != nil {
		return cid.Undef, err
	}
	if path != "" {
		return cid.Undef, ErrInvalidURI{URI: uri, Err: errors.New("references into directories are not supported")}
	}
	return c, nil
}

// SplitURI splits a content reference into its root identifier and the path below it, without
// leading or trailing slashes. Query strings are dropped.
func SplitURI(uri string) (cid.Cid, string, error) {
	u := persist.URIType(uri)
	asString := u.String()

	var rest string
	switch u.Type() {
	case persist.URITypeIPFS:
		rest = strings.TrimPrefix(asString, "ipfs://")
		rest = strings.TrimPrefix(rest, "ipfs:")
		rest = strings.TrimPrefix(rest, "/")
		rest = strings.TrimPrefix(rest, "ipfs/")
	case persist.URITypeIPFSGateway:
		rest = asString[strings.Index(asString, "/ipfs/")+len("/ipfs/"):]
	case persist.URITypeNone:
		return cid.Undef, "", ErrInvalidURI{URI: uri}
	default:
		rest = asString
	}

	rest = strings.SplitN(rest, "?", 2)[0]
	rest = strings.Trim(rest, "/")
	root, path, _ := strings.Cut(rest, "/")

	c, err := cid.Decode(root)
	if err != nil {
		return cid.Undef, "", ErrInvalidURI{URI: uri, Err: err}
	}
	return c, path, nil
}

// GatewayURL rewrites a content reference into an HTTP URL served by gateway, keeping any path
// into a directory. References that are already plain HTTP URLs are returned unchanged.
func GatewayURL(gateway, uri string) string {
	gateway = strings.TrimSuffix(gateway, "/")
	u := persist.URIType(uri)
	switch u.Type() {
	case persist.URITypeIPFS, persist.URITypeIPFSGateway:
		c, path, err := SplitURI(uri)
		if err != nil {
			return u.String()
		}
		if path != "" {
			return fmt.Sprintf("%s/ipfs/%s/%s", gateway, c.String(), path)
		}
		return fmt.Sprintf("%s/ipfs/%s", gateway, c.String())
	default:
		return u.String()
	}
}
