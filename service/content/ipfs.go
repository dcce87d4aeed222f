package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"
	files "github.com/ipfs/go-ipfs-files"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/logger"
)

// IPFSStore stores content on an IPFS node through its HTTP API and pins everything it adds
type IPFSStore struct {
	sh *shell.Shell
	// offlineReads makes reads fail instead of searching the network for blocks the node
	// doesn't have, so unknown identifiers report ErrNotFound.
	offlineReads bool
	maxBytes     int64
}

type IPFSOption func(*IPFSStore)

// WithOfflineReads configures whether reads are limited to blocks held by the node
func WithOfflineReads(offline bool) IPFSOption {
	return func(s *IPFSStore) {
		s.offlineReads = offline
	}
}

// WithMaxReadBytes bounds the size of objects returned by Get
func WithMaxReadBytes(n int64) IPFSOption {
	return func(s *IPFSStore) {
		s.maxBytes = n
	}
}

func NewIPFSStore(sh *shell.Shell, opts ...IPFSOption) *IPFSStore {
	s := &IPFSStore{sh: sh, offlineReads: true, maxBytes: 32 << 20}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewIPFSShell returns a client for the IPFS API at apiURL. When projectID is set, requests are
// authenticated with basic auth as hosted pinning APIs expect.
func NewIPFSShell(apiURL, projectID, projectSecret string) *shell.Shell {
	if projectID == "" {
		return shell.NewShell(apiURL)
	}
	client := &http.Client{
		Transport: authTransport{
			RoundTripper:  http.DefaultTransport,
			ProjectID:     projectID,
			ProjectSecret: projectSecret,
		},
	}
	return shell.NewShellWithClient(apiURL, client)
}

type addResult struct {
	Name string
	Hash string
	Size string
}

func (s *IPFSStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	// the add endpoint only accepts multipart bodies, and the shell sets the boundary header only
	// when it is handed a MultiFileReader
	body := files.NewMultiFileReader(files.NewMapDirectory(map[string]files.Node{"": files.NewBytesFile(data)}), true)

	var out addResult
	err := s.sh.Request("add").
		Option("cid-version", 1).
		Option("raw-leaves", true).
		Option("hash", "sha2-256").
		Option("chunker", "size-262144").
		Option("pin", true).
		Body(body).
		Exec(ctx, &out)
	if err != nil {
		return cid.Undef, ErrStoreUnavailable{Op: "put", Err: err}
	}

	c, err := cid.Decode(out.Hash)
	if err != nil {
		return cid.Undef, ErrStoreUnavailable{Op: "put", Err: fmt.Errorf("unexpected add output %q: %w", out.Hash, err)}
	}

	if err := Verify(c, data); err != nil {
		return cid.Undef, err
	}

	logger.For(ctx).WithFields(logrus.Fields{"cid": c.String(), "size": len(data)}).Debug("pinned content")

	return c, nil
}

func (s *IPFSStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	resp, err := s.sh.Request("cat", c.String()).
		Option("offline", s.offlineReads).
		Send(ctx)
	if err != nil {
		return nil, ErrStoreUnavailable{Op: "get", Err: err}
	}
	defer resp.Close()

	if resp.Error != nil {
		if isLikelyNotFound(resp.Error) {
			return nil, ErrNotFound
		}
		return nil, ErrStoreUnavailable{Op: "get", Err: resp.Error}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Output, s.maxBytes+1))
	if err != nil {
		return nil, ErrStoreUnavailable{Op: "get", Err: err}
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrStoreUnavailable{Op: "get", Err: fmt.Errorf("object %s exceeds %d bytes", c, s.maxBytes)}
	}

	if err := Verify(c, data); err != nil {
		return nil, err
	}

	return data, nil
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}

type authTransport struct {
	http.RoundTripper
	ProjectID     string
	ProjectSecret string
}

func (t authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.SetBasicAuth(t.ProjectID, t.ProjectSecret)
	return t.RoundTripper.RoundTrip(r)
}
