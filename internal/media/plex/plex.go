package plex

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"plexguard/internal/httputil"
	"plexguard/internal/models"
)

// terminateRateLimit caps outbound "stop stream" calls so a concurrent-cap
// sweep across many users can't hammer the upstream server with a burst of
// simultaneous terminations.
const terminateRateLimit = 5 // per second

// Client is a single-instance HTTP client against one Plex Media Server.
type Client struct {
	url    string
	token  string
	client *http.Client

	identityMu sync.Mutex
	identity   string

	terminateLimiter *rate.Limiter
}

type Config struct {
	URL             string
	Token           string
	IgnoreSSLErrors bool
}

func New(cfg Config) *Client {
	return &Client{
		url:              strings.TrimRight(cfg.URL, "/"),
		token:            cfg.Token,
		client:           httputil.NewClientTLS(cfg.IgnoreSSLErrors),
		terminateLimiter: rate.NewLimiter(rate.Limit(terminateRateLimit), terminateRateLimit),
	}
}

func (c *Client) Name() string { return "plex" }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/xml")
}

type identityContainer struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
}

// ServerIdentity returns the upstream machine identifier, cached after the
// first successful call.
func (c *Client) ServerIdentity(ctx context.Context) (string, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.identity != "" {
		return c.identity, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/identity", nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	var ic identityContainer
	if err := xml.Unmarshal(body, &ic); err != nil {
		return "", fmt.Errorf("parsing identity: %w", err)
	}
	c.identity = ic.MachineIdentifier
	return c.identity, nil
}

// FetchSessions retrieves and normalizes the server's current playback sessions.
func (c *Client) FetchSessions(ctx context.Context) (models.SessionSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/status/sessions", nil)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return models.SessionSnapshot{}, fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	return parseSessions(body)
}

var errPlexBadRequest = errors.New("plex 400")

// TerminateSession issues the upstream "stop stream" command, retrying up
// to 2 times on transient 400s (e.g. reverse proxy rate limiting).
func (c *Client) TerminateSession(ctx context.Context, sessionID, reason string) error {
	if err := c.terminateLimiter.Wait(ctx); err != nil {
		return err
	}

	const maxRetries = 2
	reqURL := fmt.Sprintf("%s/status/sessions/terminate?sessionId=%s&reason=%s",
		c.url, url.QueryEscape(sessionID), url.QueryEscape(reason))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			slog.Warn("plex: retrying terminate", "sessionID", sessionID, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = c.doTerminate(ctx, reqURL)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, errPlexBadRequest) {
			return lastErr
		}
		slog.Warn("plex: terminate returned retryable error", "sessionID", sessionID, "error", lastErr)
	}

	c.client.CloseIdleConnections()
	return fmt.Errorf("plex terminate %s: all %d attempts failed: %w", sessionID, maxRetries+1, lastErr)
}

func (c *Client) doTerminate(ctx context.Context, reqURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex terminate: %w", err)
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusBadRequest {
		slog.Warn("plex: 400 response", "url", reqURL, "body", string(body))
		return errPlexBadRequest
	}
	if len(body) > 0 {
		return fmt.Errorf("plex terminate: status %d: %s", resp.StatusCode, body)
	}
	return fmt.Errorf("plex terminate: status %d", resp.StatusCode)
}

type mediaContainer struct {
	XMLName xml.Name   `xml:"MediaContainer"`
	Videos  []plexItem `xml:"Video"`
	Tracks  []plexItem `xml:"Track"`
}

type plexItem struct {
	SessionKey           string      `xml:"sessionKey,attr"`
	RatingKey            string      `xml:"ratingKey,attr"`
	GrandparentRatingKey string      `xml:"grandparentRatingKey,attr"`
	Type                 string      `xml:"type,attr"`
	Title                string      `xml:"title,attr"`
	ParentTitle          string      `xml:"parentTitle,attr"`
	GrandparentTitle     string      `xml:"grandparentTitle,attr"`
	Year                 string      `xml:"year,attr"`
	Duration             string      `xml:"duration,attr"`
	ViewOffset           string      `xml:"viewOffset,attr"`
	Thumb                string      `xml:"thumb,attr"`
	Art                  string      `xml:"art,attr"`
	Player               plexPlayer  `xml:"Player"`
	Session              plexSession `xml:"Session"`
	User                 plexUser    `xml:"User"`
	Media                []plexMedia `xml:"Media"`
}

type plexPlayer struct {
	Title             string `xml:"title,attr"`
	Product           string `xml:"product,attr"`
	Version           string `xml:"version,attr"`
	Platform          string `xml:"platform,attr"`
	Address           string `xml:"address,attr"`
	State             string `xml:"state,attr"`
	MachineIdentifier string `xml:"machineIdentifier,attr"`
}

type plexSession struct {
	ID string `xml:"id,attr"`
}

type plexUser struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"title,attr"`
	Thumb string `xml:"thumb,attr"`
}

type plexMedia struct {
	Container       string `xml:"container,attr"`
	VideoCodec      string `xml:"videoCodec,attr"`
	AudioCodec      string `xml:"audioCodec,attr"`
	VideoResolution string `xml:"videoResolution,attr"`
	Bitrate         string `xml:"bitrate,attr"`
	Selected        string `xml:"selected,attr"`
}

func parseSessions(data []byte) (models.SessionSnapshot, error) {
	var mc mediaContainer
	if err := xml.Unmarshal(data, &mc); err != nil {
		return models.SessionSnapshot{}, fmt.Errorf("parsing plex XML: %w", err)
	}

	items := make([]plexItem, 0, len(mc.Videos)+len(mc.Tracks))
	items = append(items, mc.Videos...)
	items = append(items, mc.Tracks...)

	sessions := make([]models.Session, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, buildSession(item))
	}
	return models.SessionSnapshot{Sessions: sessions}, nil
}

func buildSession(item plexItem) models.Session {
	s := models.Session{
		SessionKey: plexSessionKey(item),
		SessionID:  item.Session.ID,
		User: models.SessionUser{
			ID:    item.User.ID,
			Name:  item.User.Title,
			Thumb: item.User.Thumb,
		},
		Player: models.PlayerInfo{
			MachineID: item.Player.MachineIdentifier,
			Platform:  item.Player.Platform,
			Product:   item.Player.Product,
			Version:   item.Player.Version,
			Address:   item.Player.Address,
			State:     item.Player.State,
			Title:     item.Player.Title,
		},
		Content: models.ContentInfo{
			Title:            item.Title,
			ParentTitle:      item.ParentTitle,
			GrandparentTitle: item.GrandparentTitle,
			Year:             atoi(item.Year),
			DurationMs:       atoi64(item.Duration),
			ViewOffsetMs:     atoi64(item.ViewOffset),
			Type:             plexMediaType(item.Type),
			Thumb:            item.Thumb,
			Art:              item.Art,
			RatingKey:        item.RatingKey,
			ParentRatingKey:  item.GrandparentRatingKey,
		},
	}

	if len(item.Media) > 0 {
		m := item.Media[0]
		for i := range item.Media {
			if item.Media[i].Selected == "1" {
				m = item.Media[i]
				break
			}
		}
		s.Media = models.MediaInfo{
			Resolution: normalizeResolution(m.VideoResolution),
			Bitrate:    atoi64(m.Bitrate) * 1000, // Plex reports kbps
			Container:  m.Container,
			VideoCodec: m.VideoCodec,
			AudioCodec: m.AudioCodec,
		}
	}

	return s
}

func plexSessionKey(item plexItem) string {
	if item.SessionKey != "" {
		return item.SessionKey
	}
	return item.Session.ID
}

func plexMediaType(t string) models.MediaType {
	switch t {
	case "movie":
		return models.MediaTypeMovie
	case "episode", "show":
		return models.MediaTypeEpisode
	case "track":
		return models.MediaTypeTrack
	default:
		return models.MediaTypeOther
	}
}

func normalizeResolution(r string) string {
	if r == "" {
		return ""
	}
	if strings.EqualFold(r, "4k") {
		return "4K"
	}
	if _, err := strconv.Atoi(r); err == nil {
		return r + "p"
	}
	return r
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
