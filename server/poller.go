package blinkwise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/quartz"
	Mp "github.com/maroda/blinkwise/plugin"
	Mt "github.com/maroda/blinkwise/types"
)

const (
	webTimeout = 2 * time.Second
)

// ErrFrameSource is returned when the landmark collaborator answers with an error status
var ErrFrameSource = errors.New("frame source error")

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Shared HTTP Client
var sharedHTTPClient = &http.Client{
	Timeout: webTimeout,
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	},
}

// SingleFetchWithClient handles the messy business of the HTTP connection
// and is testable with dependency injection, called by SingleFetch
func SingleFetchWithClient(ctx context.Context, url string, c HTTPClient) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		slog.Error("Fetch Error", slog.Any("error", err))
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Close Error", slog.Any("error", err))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Could not read body", slog.Any("error", err))
		return 0, nil, err
	}

	return resp.StatusCode, body, nil
}

// SingleFetch returns the Response Code, raw byte stream body, and error
// using a Shared HTTP Client to reuse connections to the collaborator
func SingleFetch(ctx context.Context, url string) (int, []byte, error) {
	return SingleFetchWithClient(ctx, url, sharedHTTPClient)
}

// HTTPFrameSource polls the landmark collaborator once per frame.
//   - transport failures and error statuses are acquisition failures
//   - 204 No Content means no face
//   - an undecodable body is logged and treated as no face
type HTTPFrameSource struct {
	URL     string
	Client  HTTPClient
	Decoder Mp.FrameDecoder
	Clock   quartz.Clock
}

func NewHTTPFrameSource(url string, decoder Mp.FrameDecoder, clock quartz.Clock) *HTTPFrameSource {
	return &HTTPFrameSource{
		URL:     url,
		Client:  sharedHTTPClient,
		Decoder: decoder,
		Clock:   clock,
	}
}

func (hs *HTTPFrameSource) NextFrame(ctx context.Context) (Mt.Frame, error) {
	status, body, err := SingleFetchWithClient(ctx, hs.URL, hs.Client)
	if err != nil {
		return Mt.Frame{}, fmt.Errorf("fetch frame: %w", err)
	}

	switch {
	case status == http.StatusNoContent:
		return Mt.Frame{}, nil
	case status >= http.StatusBadRequest:
		return Mt.Frame{}, fmt.Errorf("%w: status %d", ErrFrameSource, status)
	}

	frame, err := hs.Decoder.Decode(body)
	if err != nil {
		slog.Warn("Undecodable frame, treating as no face",
			slog.String("decoder", hs.Decoder.Type()),
			slog.Any("error", err))
		return Mt.Frame{}, nil
	}

	if frame.FacePresent && frame.Sample.CapturedAt.IsZero() {
		frame.Sample.CapturedAt = hs.Clock.Now()
	}
	return frame, nil
}

// Close releases idle connections to the collaborator
func (hs *HTTPFrameSource) Close() error {
	if c, ok := hs.Client.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}
