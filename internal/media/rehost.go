// Package media rehosts question images referenced by imported rows. The
// hook is a pass-through unless object storage is configured, and a rehost
// failure never fails the row that referenced the image.
package media

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sami/medbank/internal/logger"
	"github.com/sami/medbank/internal/storage"
	_ "golang.org/x/image/webp"
)

// maxDownloadBytes caps a single media download.
const maxDownloadBytes = 10 << 20

// Rehoster downloads source image URLs and re-uploads them to object storage
// under content-addressed keys.
type Rehoster struct {
	store storage.ObjectStorage
	http  *resty.Client
}

// NewRehoster creates a rehoster. A nil store yields a pass-through hook.
func NewRehoster(store storage.ObjectStorage) *Rehoster {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	return &Rehoster{store: store, http: client}
}

// Enabled reports whether rehosting is configured.
func (r *Rehoster) Enabled() bool {
	return r.store != nil
}

// Rehost downloads the image at srcURL, verifies it decodes as a raster
// image, uploads it keyed by content hash, and returns the hosted URL. When
// storage is unconfigured or anything fails, the source URL is returned
// unchanged.
func (r *Rehoster) Rehost(ctx context.Context, srcURL string) string {
	if r.store == nil || srcURL == "" {
		return srcURL
	}

	resp, err := r.http.R().SetContext(ctx).Get(srcURL)
	if err != nil {
		logger.CtxWarn(ctx, "media download failed, keeping source URL %q: %v", srcURL, err)
		return srcURL
	}
	if resp.StatusCode() != 200 {
		logger.CtxWarn(ctx, "media download returned HTTP %d, keeping source URL %q", resp.StatusCode(), srcURL)
		return srcURL
	}
	data := resp.Body()
	if len(data) == 0 || len(data) > maxDownloadBytes {
		logger.CtxWarn(ctx, "media at %q empty or oversized (%d bytes), keeping source URL", srcURL, len(data))
		return srcURL
	}

	format := sniffFormat(data, srcURL)
	if format == "" {
		logger.CtxWarn(ctx, "media at %q is not a decodable image, keeping source URL", srcURL)
		return srcURL
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s/%s.%s", hash[:2], hash, format)

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		logger.CtxWarn(ctx, "storage existence check failed for %q: %v", key, err)
		return srcURL
	}
	if !exists {
		contentType := contentTypeFor(format)
		if err := r.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			logger.CtxWarn(ctx, "media upload failed for %q, keeping source URL: %v", key, err)
			return srcURL
		}
	}

	return r.store.GetURL(key)
}

// sniffFormat decodes the image header, falling back to the URL extension for
// formats the decoder does not cover (svg).
func sniffFormat(data []byte, srcURL string) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return format
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(stripQuery(srcURL)), "."))
	if ext == "svg" {
		return ext
	}
	return ""
}

func stripQuery(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx != -1 {
		return url[:idx]
	}
	return url
}

func contentTypeFor(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
