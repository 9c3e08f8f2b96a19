package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Request describes one API call. Hooks receive a copy and may rewrite it
// before it is sent, so a Request value can be reused.
type Request struct {
	Method  string
	Path    string            // relative to the base URL, or absolute
	Query   map[string]string // merged into the URL query
	Headers map[string]string // override common headers
	JSON    any               // encoded as the JSON body when Body is nil
	Form    map[string]string // urlencoded body when Body and JSON are nil

	Body        []byte // raw body, takes precedence over JSON and Form
	ContentType string // content type for Body
}

func (r Request) clone() Request {
	out := r
	out.Query = maps.Clone(r.Query)
	out.Headers = maps.Clone(r.Headers)
	out.Form = maps.Clone(r.Form)
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if out.Query == nil {
		out.Query = map[string]string{}
	}
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	return out
}

// URLPath returns the path component of r.Path without query or host.
func (r *Request) URLPath() string {
	u, err := url.Parse(r.Path)
	if err != nil {
		return r.Path
	}
	return u.Path
}

func (r *Request) body() (io.Reader, string, error) {
	switch {
	case r.Body != nil:
		return bytes.NewReader(r.Body), r.ContentType, nil
	case r.JSON != nil:
		raw, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	case r.Form != nil:
		form := url.Values{}
		for k, v := range r.Form {
			form.Set(k, v)
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

// multipartBody builds an upload body from a file on disk plus extra form fields.
func multipartBody(fileField, filePath string, fields map[string]string) ([]byte, string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile(fileField, filepath.Base(filePath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy upload file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Request    Request // the request as sent, after hooks
}

// Status returns the HTTP status code.
func (r *Response) Status() int { return r.StatusCode }

// Bytes returns the body.
func (r *Response) Bytes() []byte { return r.Body }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
