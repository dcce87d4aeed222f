package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/logger"
)

// GatewayStore reads content from HTTP gateways, trying each in order until one serves it
type GatewayStore struct {
	client   *http.Client
	gateways []string
	maxBytes int64
}

func NewGatewayStore(client *http.Client, gateways ...string) *GatewayStore {
	trimmed := make([]string, 0, len(gateways))
	for _, g := range gateways {
		if g = strings.TrimSuffix(strings.TrimSpace(g), "/"); g != "" {
			trimmed = append(trimmed, g)
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GatewayStore{client: client, gateways: trimmed, maxBytes: 32 << 20}
}

// Gateways returns the configured gateway hosts in the order they are tried
func (g *GatewayStore) Gateways() []string {
	return g.gateways
}

// Get returns ErrNotFound only when every gateway reported the object missing. If any gateway
// failed for another reason the result is ErrStoreUnavailable since a retry may succeed.
func (g *GatewayStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if len(g.gateways) == 0 {
		return nil, ErrStoreUnavailable{Op: "get", Err: errors.New("no gateways configured")}
	}

	var lastErr error
	notFound := 0
	for _, gateway := range g.gateways {
		data, err := g.fetch(ctx, gateway, c)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) {
			notFound++
			continue
		}
		if errors.Is(err, ErrCIDMismatch) {
			logger.For(ctx).WithFields(logrus.Fields{"gateway": gateway, "cid": c.String()}).Warn("gateway served content that does not match its identifier")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if notFound == len(g.gateways) {
		return nil, ErrNotFound
	}
	return nil, ErrStoreUnavailable{Op: "get", Err: lastErr}
}

func (g *GatewayStore) fetch(ctx context.Context, gateway string, c cid.Cid) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/ipfs/%s", gateway, c.String()), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode > 299:
		return nil, fmt.Errorf("gateway %s returned status %d", gateway, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > g.maxBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", c, g.maxBytes)
	}

	if err := Verify(c, data); err != nil {
		return nil, err
	}
	return data, nil
}
