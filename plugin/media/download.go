package media

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	downloadAttempts = 3
	attemptSleep     = 800 * time.Millisecond
	maxDownloadBytes = 100 * 1024 * 1024

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// CDNs that gate downloads by Referer, keyed by host suffix.
var cdnReferers = []struct {
	suffix  string
	referer string
}{
	{"hdslb.com", "https://www.bilibili.com/"},
	{"biliimg.com", "https://www.bilibili.com/"},
	{"sinaimg.cn", "https://weibo.com/"},
	{"xhscdn.com", "https://www.xiaohongshu.com/"},
	{"douyinpic.com", "https://www.douyin.com/"},
	{"twimg.com", "https://twitter.com/"},
}

type downloader struct {
	client *http.Client
}

func newDownloader() *downloader {
	return &downloader{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

// fetch downloads rawURL with up to 3 attempts, sleeping 0.8s·attempt
// between tries. Returns the body and the response content type.
func (d *downloader) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	encoded, err := reencodeURL(rawURL)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * attemptSleep):
			}
		}

		data, contentType, err := d.fetchOnce(ctx, encoded)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err
	}
	return nil, "", errors.Wrapf(lastErr, "failed to download %s after %d attempts", rawURL, downloadAttempts)
}

func (d *downloader) fetchOnce(ctx context.Context, encoded string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, encoded, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("User-Agent", userAgent)
	if referer := refererFor(req.URL.Hostname()); referer != "" {
		req.Header.Set("Referer", referer)
		req.Header.Set("Origin", strings.TrimSuffix(referer, "/"))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to read body")
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return data, contentType, nil
}

func refererFor(host string) string {
	host = strings.ToLower(host)
	for _, cdn := range cdnReferers {
		if host == cdn.suffix || strings.HasSuffix(host, "."+cdn.suffix) {
			return cdn.referer
		}
	}
	return ""
}

// reencodeURL re-encodes the path and query of rawURL. Already-encoded
// octets are preserved; bare unsafe characters get percent-encoded.
func reencodeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.Wrapf(err, "malformed media url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Errorf("unsupported media url scheme %q", u.Scheme)
	}
	// String() rebuilds the URL from the decoded form, emitting each
	// path/query octet percent-encoded exactly once.
	return u.String(), nil
}
