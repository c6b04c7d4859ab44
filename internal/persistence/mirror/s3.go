// Package mirror copies season archives to an S3-compatible bucket (R2,
// MinIO, S3) so a lost data directory can be rebuilt from object storage.
package mirror

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigRegion    = "auto"
	sigService   = "s3"
)

// Bucket puts objects with SigV4-signed requests in path-style addressing.
type Bucket struct {
	endpoint string
	name     string
	keyID    string
	secret   string
	http     *http.Client
	now      func() time.Time
}

func NewBucket(endpoint, name, keyID, secret string) (*Bucket, error) {
	endpoint = strings.TrimSpace(endpoint)
	name = strings.TrimSpace(name)
	keyID = strings.TrimSpace(keyID)
	secret = strings.TrimSpace(secret)
	if endpoint == "" || name == "" || keyID == "" || secret == "" {
		return nil, fmt.Errorf("mirror: endpoint, bucket, access key and secret are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mirror: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mirror: invalid endpoint %q", endpoint)
	}
	return &Bucket{
		endpoint: strings.TrimRight(u.String(), "/"),
		name:     name,
		keyID:    keyID,
		secret:   secret,
		http:     &http.Client{Timeout: 2 * time.Minute},
		now:      time.Now,
	}, nil
}

// Put uploads body under key. The body is buffered to hash it for the
// signature; archives are small.
func (b *Bucket) Put(ctx context.Context, key string, body io.Reader) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("mirror: empty object key")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	payloadHash := sha256Hex(data)

	now := b.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	uri := "/" + b.name + "/" + escapeKey(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.endpoint+uri, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("Authorization", b.authorization(req.URL.Host, uri, payloadHash, amzDate, day))

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("mirror: put %s: status=%d body=%s", key, resp.StatusCode, strings.TrimSpace(string(msg)))
}

func (b *Bucket) authorization(host, uri, payloadHash, amzDate, day string) string {
	const signed = "host;x-amz-content-sha256;x-amz-date"
	canonical := strings.Join([]string{
		http.MethodPut,
		uri,
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signed,
		payloadHash,
	}, "\n")
	scope := day + "/" + sigRegion + "/" + sigService + "/aws4_request"
	toSign := strings.Join([]string{sigAlgorithm, amzDate, scope, sha256Hex([]byte(canonical))}, "\n")

	k := hmacSHA256([]byte("AWS4"+b.secret), []byte(day))
	k = hmacSHA256(k, []byte(sigRegion))
	k = hmacSHA256(k, []byte(sigService))
	k = hmacSHA256(k, []byte("aws4_request"))
	sig := hex.EncodeToString(hmacSHA256(k, []byte(toSign)))
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s", sigAlgorithm, b.keyID, scope, signed, sig)
}

func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return ""
	}
	return clean
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
