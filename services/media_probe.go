package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// HeadObjectAPI is the part of the S3 client the probe needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// MediaProbe reports whether a video url points at playable media.
// s3://bucket/key urls are checked with HeadObject, http(s) urls with HEAD.
type MediaProbe struct {
	s3   HeadObjectAPI
	http *http.Client
}

// NewMediaProbe loads the default AWS config for region.
func NewMediaProbe(ctx context.Context, region string, timeout time.Duration) (*MediaProbe, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewMediaProbeWithClients(s3.NewFromConfig(cfg), &http.Client{Timeout: timeout}), nil
}

// NewMediaProbeWithClients builds a probe from explicit clients. s3api may be nil
// when only http(s) urls are expected.
func NewMediaProbeWithClients(s3api HeadObjectAPI, hc *http.Client) *MediaProbe {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &MediaProbe{s3: s3api, http: hc}
}

// Probe returns true when the media exists. A definite miss returns (false, nil);
// transport failures return an error.
func (p *MediaProbe) Probe(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		return p.probeS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "http", "https":
		return p.probeHTTP(ctx, rawURL)
	default:
		return false, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

func (p *MediaProbe) probeS3(ctx context.Context, bucket, key string) (bool, error) {
	if p.s3 == nil {
		return false, errors.New("s3 probe not configured")
	}
	if bucket == "" || key == "" {
		return false, nil
	}
	_, err := p.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
}

func (p *MediaProbe) probeHTTP(ctx context.Context, rawURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", rawURL, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("head %s: status %d", rawURL, resp.StatusCode)
	default:
		return false, nil
	}
}
