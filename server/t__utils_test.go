package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SplitFi/go-oasis/service/persist"
)

const (
	testRegistry persist.Address = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	testOperator persist.Address = "oasis-ledger"
	testSeller   persist.Address = "0xda3845b44736b57e05ee80fc011a52a9c777423a"
	testBuyer    persist.Address = "0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85"
)

type testServer struct {
	router  *gin.Engine
	clients *Clients
}

func setupTest(t *testing.T) (*assert.Assertions, *testServer) {
	gin.SetMode(gin.TestMode)
	clients := NewMemoryClients(testRegistry, testOperator)
	return assert.New(t), &testServer{router: handlersInit(gin.New(), clients), clients: clients}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// upload posts a multipart form. A nil file leaves the file part out.
func (s *testServer) upload(t *testing.T, fields map[string]string, filename string, file []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// listedToken mints a token to the seller, approves the ledger and lists it
func (s *testServer) listedToken(t *testing.T, uri, price string) (persist.TokenID, persist.ListingID) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/tokens/mint", map[string]string{"to": testSeller.String(), "uri": uri})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var minted tokenOutput
	decode(t, w, &minted)

	w = s.do(t, http.MethodPost, "/tokens/approve", map[string]string{"owner": testSeller.String(), "token_id": minted.TokenID.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/listings", map[string]string{"seller": testSeller.String(), "token_id": minted.TokenID.String(), "price": price})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created createListingOutput
	decode(t, w, &created)

	return minted.TokenID, created.ID
}

func bigInt(i int64) *big.Int {
	return big.NewInt(i)
}
