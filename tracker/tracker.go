// Package tracker announces to HTTP and UDP trackers and decodes the peers
// they return.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"leech/bencode"
	"leech/peer"
)

// maxResponseSize bounds how much of an HTTP tracker reply is read.
const maxResponseSize = 4 << 20

// Request holds the announce parameters. Peers are always requested in
// compact form.
type Request struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      string // "", "started", "completed" or "stopped"
}

// Response is what the tracker answered.
type Response struct {
	Interval time.Duration
	Seeders  int
	Leechers int
	Peers    []peer.Peer
}

type Client struct {
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient returns a client whose announces give up after timeout. A zero
// timeout means the context alone bounds them.
func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// Announce sends req to the tracker behind announceURL. Every error is an
// *Error; a tracker rejection wraps a *FailureError.
func (c *Client) Announce(ctx context.Context, announceURL string, req Request) (*Response, error) {
	base, err := url.Parse(announceURL)
	if err != nil {
		return nil, &Error{URL: announceURL, Err: err}
	}

	var res *Response
	switch base.Scheme {
	case "http", "https":
		res, err = c.announceHTTP(ctx, base, req)
	case "udp":
		res, err = c.announceUDP(ctx, base.Host, req)
	default:
		err = fmt.Errorf("unsupported url scheme %q", base.Scheme)
	}
	if err != nil {
		return nil, &Error{URL: announceURL, Err: err}
	}

	c.log.Debug().Str("tracker", announceURL).Int("peers", len(res.Peers)).Dur("interval", res.Interval).Msg("Announced")
	return res, nil
}

// AnnounceAny tries each tracker in order and returns the first answer with
// at least one peer. A tracker rejection does not stop the search.
func (c *Client) AnnounceAny(ctx context.Context, urls []string, req Request) (*Response, error) {
	if len(urls) == 0 {
		return nil, &Error{Err: errors.New("no trackers")}
	}

	var lastErr error
	for _, u := range urls {
		res, err := c.Announce(ctx, u, req)
		if err != nil {
			c.log.Warn().Err(err).Str("tracker", u).Msg("Announce failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(res.Peers) == 0 {
			lastErr = &Error{URL: u, Err: errors.New("no peers")}
			continue
		}
		return res, nil
	}
	return nil, lastErr
}

// escapeInfoHash percent-encodes every byte, unreserved or not.
func escapeInfoHash(infoHash [20]byte) string {
	var sb strings.Builder
	sb.Grow(len(infoHash) * 3)
	for _, b := range infoHash {
		fmt.Fprintf(&sb, "%%%02X", b)
	}
	return sb.String()
}

// BuildURL appends the announce parameters to the tracker URL. info_hash is
// escaped by hand; the rest goes through url.Values.
func BuildURL(announceURL string, req Request) (string, error) {
	base, err := url.Parse(announceURL)
	if err != nil {
		return "", err
	}
	return buildURL(base, req), nil
}

func buildURL(base *url.URL, req Request) string {
	params := base.Query()
	params.Set("peer_id", string(req.PeerID[:]))
	params.Set("port", strconv.Itoa(int(req.Port)))
	params.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	params.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	params.Set("left", strconv.FormatInt(req.Left, 10))
	params.Set("compact", "1")
	if req.Event != "" {
		params.Set("event", req.Event)
	}

	u := *base
	u.RawQuery = "info_hash=" + escapeInfoHash(req.InfoHash) + "&" + params.Encode()
	return u.String()
}

func (c *Client) announceHTTP(ctx context.Context, base *url.URL, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, buildURL(base, req), nil)
	if err != nil {
		return nil, err
	}

	response, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	res, err := decodeResponse(body)
	if err != nil && response.StatusCode != http.StatusOK {
		var failure *FailureError
		if !errors.As(err, &failure) {
			return nil, fmt.Errorf("unexpected status %s", response.Status)
		}
	}
	return res, err
}

// GET request to tracker URL returns:
//   - interval (time to send GET request for list of peers again)
//   - peers (compact string or list of dictionaries)
type httpTrackerResponse struct {
	Interval   int    `bencode:"interval"`
	Complete   int    `bencode:"complete"`
	Incomplete int    `bencode:"incomplete"`
	Warning    string `bencode:"warning message"`
}

func decodeResponse(body []byte) (*Response, error) {
	v, err := bencode.DecodeAll(body)
	if err != nil {
		return nil, err
	}
	if v.Kind != bencode.KindDict {
		return nil, fmt.Errorf("response is a %s, not a dictionary", v.Kind)
	}

	if reason, ok := v.Get("failure reason"); ok {
		return nil, &FailureError{Reason: string(reason.Str)}
	}

	if interval, ok := v.Get("interval"); !ok || interval.Kind != bencode.KindInt || interval.Int < 0 {
		return nil, errors.New("response has no valid interval")
	}

	var typed httpTrackerResponse
	if err := bencode.Unmarshal(body, &typed); err != nil {
		return nil, err
	}

	peersValue, ok := v.Get("peers")
	if !ok {
		return nil, errors.New("response has no peers")
	}
	peers, err := decodePeers(peersValue)
	if err != nil {
		return nil, err
	}

	return &Response{
		Interval: time.Duration(typed.Interval) * time.Second,
		Seeders:  typed.Complete,
		Leechers: typed.Incomplete,
		Peers:    peers,
	}, nil
}

func decodePeers(v bencode.Value) ([]peer.Peer, error) {
	switch v.Kind {
	case bencode.KindString:
		return peer.Unmarshal(v.Str)
	case bencode.KindList:
		peers := make([]peer.Peer, 0, len(v.List))
		for i, item := range v.List {
			ip, ok1 := item.Get("ip")
			port, ok2 := item.Get("port")
			if !ok1 || !ok2 || ip.Kind != bencode.KindString || port.Kind != bencode.KindInt {
				return nil, fmt.Errorf("peer %d: need ip and port", i)
			}
			addr := net.ParseIP(string(ip.Str))
			if addr == nil {
				return nil, fmt.Errorf("peer %d: bad ip %q", i, ip.Str)
			}
			if port.Int <= 0 || port.Int > 65535 {
				return nil, fmt.Errorf("peer %d: bad port %d", i, port.Int)
			}
			peers = append(peers, peer.Peer{IP: addr, Port: uint16(port.Int)})
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("peers is a %s", v.Kind)
	}
}
