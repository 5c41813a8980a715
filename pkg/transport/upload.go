package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

// UploadProgress receives the number of body bytes written so far.
type UploadProgress func(sent, total int64)

type UploadRequest struct {
	FileName    string
	ContentType string
	Data        []byte
	Kind        models.MessageKind
}

// UploadResult is the media host's answer to an upload.
type UploadResult struct {
	SecureURL    string  `json:"secure_url"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Bytes        int64   `json:"bytes"`
	Duration     float64 `json:"duration,omitempty"`
}

func (r *UploadResult) Media() *models.Media {
	return &models.Media{URL: r.SecureURL, ThumbnailURL: r.ThumbnailURL, Size: r.Bytes, Duration: r.Duration}
}

// Upload posts the asset to the media host as multipart form data. Progress
// is reported as the request body is streamed.
func (c *Client) Upload(ctx context.Context, in UploadRequest, progress UploadProgress) (*UploadResult, error) {
	started := time.Now()
	res, err := c.upload(ctx, in, progress)
	c.metrics.ObserveAPI("upload", started, err)
	return res, err
}

func (c *Client) upload(ctx context.Context, in UploadRequest, progress UploadProgress) (*UploadResult, error) {
	if c.opts.UploadURL == "" {
		return nil, fmt.Errorf("transport: media upload url not configured")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	buf := bytebufferpool.Get()
	contentType, err := c.writeMultipart(buf, in)
	if err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.opts.UploadURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	total := int64(buf.Len())
	req.SetBodyStream(&progressReader{r: bytes.NewReader(buf.B), total: total, fn: progress}, int(total))

	if err := c.hc.DoDeadline(req, resp, c.deadline(ctx, c.opts.UploadTimeout)); err != nil {
		// the body may still be referenced by a timed out request; leave it to the GC
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: upload: %w", ErrNetwork, err)
	}
	bytebufferpool.Put(buf)
	if sc := resp.StatusCode(); sc < 200 || sc >= 300 {
		return nil, parseAPIError(sc, resp.Body())
	}
	var out UploadResult
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if out.SecureURL == "" {
		return nil, fmt.Errorf("upload response has no secure_url")
	}
	if out.Bytes == 0 {
		out.Bytes = int64(len(in.Data))
	}
	return &out, nil
}

func (c *Client) writeMultipart(w io.Writer, in UploadRequest) (string, error) {
	mw := multipart.NewWriter(w)
	fields := [][2]string{
		{"upload_preset", c.opts.UploadPreset},
		{"folder", c.opts.Folder},
		{"resource_type", resourceType(in.Kind)},
	}
	if in.Kind == models.KindImage && c.opts.MaxDimension > 0 {
		q := "auto"
		if c.opts.Quality > 0 {
			q = fmt.Sprint(c.opts.Quality)
		}
		fields = append(fields, [2]string{"transformation",
			fmt.Sprintf("c_limit,w_%d,h_%d,q_%s", c.opts.MaxDimension, c.opts.MaxDimension, q)})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}

	name := in.FileName
	if name == "" {
		name = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(name)))
	ct := in.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(in.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

func resourceType(k models.MessageKind) string {
	switch k {
	case models.KindImage:
		return "image"
	case models.KindVideo:
		return "video"
	}
	return "raw"
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    UploadProgress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
