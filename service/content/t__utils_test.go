package content

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
)

type stubStore struct {
	Store
	getErr      error
	putErr      error
	putFailures int32
	puts        int32
}

func (s *stubStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	n := atomic.AddInt32(&s.puts, 1)
	if s.putErr != nil {
		return cid.Undef, s.putErr
	}
	if n <= s.putFailures {
		return cid.Undef, ErrStoreUnavailable{Op: "put", Err: io.ErrUnexpectedEOF}
	}
	return s.Store.Put(ctx, data)
}

func (s *stubStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, c)
}

type countingStore struct {
	Store
	gets int32
}

func (s *countingStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	atomic.AddInt32(&s.gets, 1)
	return s.Store.Get(ctx, c)
}

// slowStore delays every read, giving up early if the caller's context ends first
type slowStore struct {
	Store
	delay time.Duration
}

func (s slowStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ErrStoreUnavailable{Op: "get", Err: ctx.Err()}
	}
	return s.Store.Get(ctx, c)
}

func newGatewayServer(t *testing.T, objects map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/ipfs/")
		data, ok := objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
}

type fakeIPFSNode struct {
	*httptest.Server
	mu           sync.Mutex
	contentTypes []string
}

// addContentTypes returns the media types of every add request the node received
func (n *fakeIPFSNode) addContentTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.contentTypes...)
}

// newFakeIPFSNode serves the subset of the IPFS HTTP API the store uses. Like a real node, add
// rejects anything but multipart bodies.
func newFakeIPFSNode(t *testing.T) *fakeIPFSNode {
	t.Helper()
	node := &fakeIPFSNode{}
	var mu sync.Mutex
	blocks := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		node.mu.Lock()
		node.contentTypes = append(node.contentTypes, mediaType)
		node.mu.Unlock()

		if mediaType != "multipart/form-data" {
			http.Error(w, "request Content-Type isn't multipart/form-data", http.StatusBadRequest)
			return
		}
		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		part, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(part)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, err := ComputeCID(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		mu.Lock()
		blocks[c.String()] = data
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"Name": c.String(), "Hash": c.String(), "Size": "0"})
	})
	mux.HandleFunc("/api/v0/cat", func(w http.ResponseWriter, r *http.Request) {
		arg := r.URL.Query().Get("arg")
		mu.Lock()
		data, ok := blocks[arg]
		mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"Message": "block was not found locally (offline): ipld: could not find " + arg,
				"Code":    0,
				"Type":    "error",
			})
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write(data)
	})
	node.Server = httptest.NewServer(mux)
	return node
}
