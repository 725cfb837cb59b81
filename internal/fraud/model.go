package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/tradekernel/internal/crypto"
	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const analyzePath = "/v1/documents/analyze"

// HTTPModel calls an external document risk model over HMAC-signed HTTP.
type HTTPModel struct {
	baseURL string
	signer  *crypto.RequestSigner
	client  *http.Client
}

// NewHTTPModel creates an HTTPModel. signer may be nil for unauthenticated
// endpoints.
func NewHTTPModel(baseURL string, signer *crypto.RequestSigner, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		client:  &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	URL     string `json:"url"`
	DocType string `json:"doc_type"`
}

// AnalyzeDocument posts the document reference to the model. Every failure
// wraps domain.ErrExternalDependency.
func (m *HTTPModel) AnalyzeDocument(ctx context.Context, url, docType string) (domain.ModelFindings, error) {
	body, err := json.Marshal(analyzeRequest{URL: url, DocType: docType})
	if err != nil {
		return domain.ModelFindings{}, fmt.Errorf("fraud/model: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+analyzePath, bytes.NewReader(body))
	if err != nil {
		return domain.ModelFindings{}, fmt.Errorf("fraud/model: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.signer != nil {
		for k, v := range m.signer.Headers(http.MethodPost, analyzePath, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.ModelFindings{}, fmt.Errorf("%w: fraud/model: %s", domain.ErrExternalDependency, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ModelFindings{}, fmt.Errorf("%w: fraud/model: status %d: %s",
			domain.ErrExternalDependency, resp.StatusCode, string(snippet))
	}

	var out domain.ModelFindings
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return domain.ModelFindings{}, fmt.Errorf("%w: fraud/model: decode: %s", domain.ErrExternalDependency, err.Error())
	}
	return out, nil
}

var _ DocumentModel = (*HTTPModel)(nil)
