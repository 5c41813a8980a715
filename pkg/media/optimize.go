// Package media prepares attachments and uploads them to the media host.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

const (
	DefaultMaxDimension = 1920
	DefaultQuality      = 85
)

// OptimizationInfo describes what the optimize phase did to an asset.
type OptimizationInfo struct {
	OriginalWidth  int    `json:"originalWidth,omitempty"`
	OriginalHeight int    `json:"originalHeight,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	OriginalBytes  int64  `json:"originalBytes"`
	OptimizedBytes int64  `json:"optimizedBytes"`
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason,omitempty"`
}

// Asset is an attachment held in memory between the pipeline phases.
type Asset struct {
	FileName    string
	ContentType string
	Data        []byte
	Kind        models.MessageKind
}

// Optimizer bounds images to MaxDimension on their long edge and recompresses
// them. Videos and files are passed through untouched.
type Optimizer struct {
	MaxDimension int
	Quality      int
}

func (o Optimizer) withDefaults() Optimizer {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

func (o Optimizer) Optimize(a Asset) (Asset, OptimizationInfo, error) {
	info := OptimizationInfo{OriginalBytes: int64(len(a.Data)), OptimizedBytes: int64(len(a.Data))}
	switch a.Kind {
	case models.KindImage:
	case models.KindVideo:
		// video transcoding is not supported; uploads go out as recorded
		info.Skipped, info.Reason = true, "video passthrough"
		return a, info, nil
	default:
		info.Skipped, info.Reason = true, "not an image"
		return a, info, nil
	}

	o = o.withDefaults()
	src, format, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		return a, info, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	info.OriginalWidth, info.OriginalHeight = b.Dx(), b.Dy()
	info.Width, info.Height = b.Dx(), b.Dy()

	img := src
	resized := false
	if w, h := fitWithin(b.Dx(), b.Dy(), o.MaxDimension); w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
		resized = true
		info.Width, info.Height = w, h
	}

	var buf bytes.Buffer
	outType := "image/jpeg"
	if format == "png" {
		outType = "image/png"
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.Quality})
	}
	if err != nil {
		return a, info, fmt.Errorf("encode image: %w", err)
	}

	if !resized && buf.Len() >= len(a.Data) {
		info.Skipped, info.Reason = true, "already optimal"
		return a, info, nil
	}
	out := a
	out.Data = buf.Bytes()
	out.ContentType = outType
	out.FileName = renameExt(a.FileName, outType)
	info.OptimizedBytes = int64(len(out.Data))
	return out, info, nil
}

// fitWithin scales (w, h) down so the long edge is at most bound. It never
// scales up.
func fitWithin(w, h, bound int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if long <= bound || long == 0 {
		return w, h
	}
	nw := int(float64(w) * float64(bound) / float64(long))
	nh := int(float64(h) * float64(bound) / float64(long))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
