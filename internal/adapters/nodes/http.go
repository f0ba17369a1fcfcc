package nodes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/eleven-am/weft/internal/adapters/egress"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
	"github.com/eleven-am/weft/internal/xjson"
)

const (
	FormatJSON     = "json"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

var httpMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
	http.MethodHead:   {},
}

// HTTPSettings configures http.request. URL, header values and a string
// body accept {{nodeId.path}} placeholders.
type HTTPSettings struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           interface{}       `json:"body,omitempty"`
	ResponseFormat string            `json:"responseFormat"`
}

func (s *HTTPSettings) Validate() error {
	s.Method = strings.ToUpper(s.Method)
	if _, ok := httpMethods[s.Method]; !ok {
		return settingsError(domain.SpecHTTPRequest, fmt.Sprintf("unsupported method %q", s.Method))
	}
	if s.URL == "" {
		return settingsError(domain.SpecHTTPRequest, "url is required")
	}
	switch s.ResponseFormat {
	case FormatJSON, FormatText, FormatMarkdown:
	default:
		return settingsError(domain.SpecHTTPRequest, fmt.Sprintf("unknown responseFormat %q", s.ResponseFormat))
	}
	return nil
}

func (b *builtins) runHTTP(ctx context.Context, req *ports.NodeRequest, s *HTTPSettings) (interface{}, error) {
	target := Render(s.URL, req.Inputs)

	body, contentType, err := requestBody(s.Body, req.Inputs)
	if err != nil {
		return nil, nodeError(req, "encode request body", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, s.Method, target, body)
	if err != nil {
		return nil, domain.NewSecurityError("invalid request url", domain.ErrEgressDenied,
			domain.WithNodeID(req.NodeID),
			domain.WithComponent("nodes"),
		)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for name, value := range s.Headers {
		httpReq.Header.Set(name, Render(value, req.Inputs))
	}

	resp, err := b.guard.Do(ctx, httpReq, req.Egress)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewStatusError(resp.URL, resp.StatusCode, resp.Header.Get("Retry-After"), string(resp.Body))
	}

	return decodeResponse(req, s.ResponseFormat, resp.Body)
}

// requestBody encodes a configured body. Strings are rendered and sent as
// written; anything else is sent as JSON.
func requestBody(value interface{}, inputs map[string]interface{}) (io.Reader, string, error) {
	switch v := value.(type) {
	case nil:
		return nil, "", nil
	case string:
		rendered := Render(v, inputs)
		contentType := "text/plain; charset=utf-8"
		if xjson.Valid([]byte(rendered)) {
			contentType = "application/json"
		}
		return strings.NewReader(rendered), contentType, nil
	}

	data, err := xjson.Marshal(value)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

func decodeResponse(req *ports.NodeRequest, format string, body []byte) (interface{}, error) {
	switch format {
	case FormatText:
		return string(body), nil
	case FormatMarkdown:
		markdown, err := htmltomarkdown.ConvertString(string(body))
		if err != nil {
			return nil, nodeError(req, "convert html to markdown", err)
		}
		return markdown, nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	return egress.DecodeJSON(body, req.Egress)
}
