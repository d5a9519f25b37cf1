package api

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
)

// filePart is the extracted upload payload.
type filePart struct {
	Filename string
	Data     []byte
}

// parseStandardMultipart extracts the "file" part with the stdlib
// multipart reader.
func parseStandardMultipart(contentType string, body []byte) (filePart, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["boundary"] == "" {
		return filePart{}, ragerrors.New(ragerrors.ErrCodeMalformedMultipart, "missing multipart boundary", err)
	}

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		p, err := mr.NextPart()
		if err != nil {
			return filePart{}, ragerrors.New(ragerrors.ErrCodeMalformedMultipart, "multipart body has no file field", err)
		}
		if p.FormName() != "file" {
			continue
		}
		data, err := io.ReadAll(p)
		if err != nil {
			return filePart{}, ragerrors.New(ragerrors.ErrCodeMalformedMultipart, "read file part", err)
		}
		return filePart{Filename: p.FileName(), Data: data}, nil
	}
}

// parseMultipartFallback is a manual multipart parser for framings the
// standard reader rejects (missing trailing CRLF, bare LF line
// endings). The body is already bounded by the upload ceiling.
func parseMultipartFallback(contentType string, body []byte) (filePart, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["boundary"] == "" {
		return filePart{}, ragerrors.New(ragerrors.ErrCodeMalformedMultipart, "missing multipart boundary", err)
	}
	boundary := params["boundary"]

	for _, part := range bytes.Split(body, []byte("--"+boundary)) {
		part = bytes.TrimLeft(part, "\r\n")
		if len(part) == 0 || bytes.HasPrefix(part, []byte("--")) {
			continue
		}

		headers, data, ok := splitPart(part)
		if !ok {
			continue
		}
		name, filename := parseDisposition(headers)
		if name != "file" {
			continue
		}
		return filePart{Filename: filename, Data: data}, nil
	}
	return filePart{}, ragerrors.New(ragerrors.ErrCodeMalformedMultipart, "multipart body has no file field", nil)
}

// splitPart separates a part into its header block and payload,
// accepting CRLF or bare LF separators.
func splitPart(part []byte) (headers string, data []byte, ok bool) {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if idx := bytes.Index(part, sep); idx >= 0 {
			headers = string(part[:idx])
			data = part[idx+len(sep):]
			// Drop the line break that precedes the next boundary.
			data = bytes.TrimSuffix(data, []byte("\n"))
			data = bytes.TrimSuffix(data, []byte("\r"))
			return headers, data, true
		}
	}
	return "", nil, false
}

// parseDisposition extracts the form field name and filename from a
// part's Content-Disposition header.
func parseDisposition(headers string) (name, filename string) {
	for _, line := range strings.Split(headers, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(strings.ToLower(line), "content-disposition:") {
			continue
		}
		value := strings.TrimSpace(line[len("content-disposition:"):])
		_, params, err := mime.ParseMediaType(value)
		if err != nil {
			continue
		}
		return params["name"], params["filename"]
	}
	return "", ""
}
