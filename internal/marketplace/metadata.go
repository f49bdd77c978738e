package marketplace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxMetadataBytes bounds a metadata document
const maxMetadataBytes = 1 << 20

// Metadata is the display data of a token.
type Metadata struct {
	Name  string
	Image string
}

// MetadataResolver fetches token metadata documents, rewriting ipfs://
// URIs through an HTTP gateway.
type MetadataResolver struct {
	client  *http.Client
	gateway string
}

// NewMetadataResolver creates a resolver. gateway is a URL prefix such as
// https://gateway.pinata.cloud/ipfs/.
func NewMetadataResolver(gateway string, timeout time.Duration) *MetadataResolver {
	if gateway != "" && !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return &MetadataResolver{
		client:  &http.Client{Timeout: timeout},
		gateway: gateway,
	}
}

// ResolveURI rewrites ipfs:// URIs through the gateway.
func (m *MetadataResolver) ResolveURI(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return m.gateway + strings.TrimPrefix(rest, "ipfs/")
	}
	return uri
}

// Fetch loads the metadata document at uri. Missing fields are returned
// empty.
func (m *MetadataResolver) Fetch(ctx context.Context, uri string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ResolveURI(uri), nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("building metadata request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("fetching metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("fetching metadata: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return Metadata{}, fmt.Errorf("reading metadata: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Metadata{}, fmt.Errorf("metadata is not valid JSON")
	}

	md := Metadata{
		Name:  gjson.GetBytes(body, "name").String(),
		Image: gjson.GetBytes(body, "image").String(),
	}
	if md.Image != "" {
		md.Image = m.ResolveURI(md.Image)
	}
	return md, nil
}
