package httpreq

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/example/surge/internal/config"
)

// BuildRequest assembles one ready-to-send *http.Request per invocation,
// attaching at most one body variant as described in spec §6's Request
// Builder contract. client is accepted for signature parity with the
// original contract (`build(arg, client)`); this implementation doesn't
// need it directly since the body is built independently of the
// transport.
func BuildRequest(ctx context.Context, cfg config.Config, _ *http.Client) (*http.Request, error) {
	method := strings.ToUpper(cfg.Method)

	body, contentType, err := buildBody(cfg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header = parseHeaders(cfg.Headers, cfg.DisableKeepAlive)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// buildBody picks exactly one body variant in precedence order: plain
// text (inline or file), JSON, form, multipart. Config.Validate already
// rejects Body+BodyFile both being set; the remaining variants are left
// to the caller to keep disjoint.
func buildBody(cfg config.Config) (*bytes.Reader, string, error) {
	switch {
	case cfg.Body != "":
		return bytes.NewReader([]byte(cfg.Body)), "text/plain; charset=UTF-8", nil

	case cfg.BodyFile != "":
		data, err := readBodyFile(cfg.BodyFile)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "text/plain; charset=UTF-8", nil

	case cfg.JSONBody != "":
		return bytes.NewReader([]byte(cfg.JSONBody)), "application/json; charset=UTF-8", nil

	case len(cfg.Form) > 0:
		values := url.Values{}
		for _, kv := range cfg.Form {
			k, v, ok := strings.Cut(strings.TrimSpace(kv), ":")
			if !ok {
				continue
			}
			values.Set(strings.TrimSpace(k), strings.TrimSpace(v))
		}
		return bytes.NewReader([]byte(values.Encode())), "application/x-www-form-urlencoded", nil

	case len(cfg.Multipart) > 0 || len(cfg.MultipartFile) > 0:
		return buildMultipartBody(cfg)
	}

	return bytes.NewReader(nil), "", nil
}

func buildMultipartBody(cfg config.Config) (*bytes.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, kv := range cfg.Multipart {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), ":")
		if !ok {
			continue
		}
		if err := w.WriteField(strings.TrimSpace(k), strings.TrimSpace(v)); err != nil {
			return nil, "", fmt.Errorf("write multipart field: %w", err)
		}
	}

	for _, path := range cfg.MultipartFile {
		data, err := readBodyFile(path)
		if err != nil {
			return nil, "", err
		}
		name := filepath.Base(path)
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, name, name)}
		header["Content-Type"] = []string{mimeType}

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create multipart part: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write multipart part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), w.FormDataContentType(), nil
}
