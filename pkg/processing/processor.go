package processing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/vision-qa/pkg/types"
)

// MaxDownloadSize caps images fetched over HTTP
const MaxDownloadSize = 50 << 20

// Processor loads images and prepares them for vision models
type Processor struct {
	httpClient   *http.Client
	minImageSize int
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Format      string  `json:"format"`
	Bytes       int     `json:"bytes"`
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		minImageSize: 16,
	}
}

// SetMinImageSize changes the smallest side ValidateImage accepts
func (p *Processor) SetMinImageSize(n int) {
	p.minImageSize = n
}

// IsURL reports whether source should be downloaded instead of read from disk
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// LoadBytes reads raw image bytes from either a file path or URL
func (p *Processor) LoadBytes(ctx context.Context, source string) ([]byte, error) {
	if IsURL(source) {
		return p.downloadImage(ctx, source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

// downloadImage fetches an image over http(s)
func (p *Processor) downloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "vision-qa/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxDownloadSize {
		return nil, fmt.Errorf("image larger than %d bytes", MaxDownloadSize)
	}
	return data, nil
}

// Decode decodes image bytes with WebP support
func (p *Processor) Decode(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}
	return nil, "", fmt.Errorf("image: unknown or unsupported format")
}

// GetImageInfo decodes only the header of data
func (p *Processor) GetImageInfo(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return ImageInfo{}, fmt.Errorf("image: unknown or unsupported format")
		}
		format = "webp"
	}
	info := ImageInfo{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Bytes:  len(data),
	}
	if cfg.Height > 0 {
		info.AspectRatio = float64(cfg.Width) / float64(cfg.Height)
	}
	return info, nil
}

// ValidateImage checks the image decodes and meets the minimum size
func (p *Processor) ValidateImage(data []byte) error {
	info, err := p.GetImageInfo(data)
	if err != nil {
		return err
	}
	if info.Width < p.minImageSize || info.Height < p.minImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", info.Width, info.Height, p.minImageSize)
	}
	return nil
}

// PrepareImageForModel returns the bytes to send to a vision model. Images
// that already fit within maxDim and are jpeg or png go out untouched;
// everything else is resized so the long side is maxDim and re-encoded.
// maxDim 0 keeps the original size.
func (p *Processor) PrepareImageForModel(data []byte, format string, maxDim, quality int) (types.Image, error) {
	info, err := p.GetImageInfo(data)
	if err != nil {
		return types.Image{}, err
	}

	fits := maxDim <= 0 || (info.Width <= maxDim && info.Height <= maxDim)
	if fits && (info.Format == "jpeg" || info.Format == "png") {
		return types.Image{Data: data, MIME: "image/" + info.Format}, nil
	}

	img, _, err := p.Decode(data)
	if err != nil {
		return types.Image{}, err
	}

	if !fits {
		if info.Width >= info.Height {
			img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return types.Image{}, err
		}
		return types.Image{Data: buf.Bytes(), MIME: "image/png"}, nil
	default: // jpg
		if quality < 1 || quality > 100 {
			quality = 85
		}
		img = flatten(img)
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return types.Image{}, err
		}
		return types.Image{Data: buf.Bytes(), MIME: "image/jpeg"}, nil
	}
}

// flatten composites translucent images onto white, since jpeg has no alpha
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
