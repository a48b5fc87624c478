// Package shazam talks to a Shazam-compatible tag endpoint. It signs
// captured audio and reports match outcomes for streaming sessions.
package shazam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"enseek/internal/signature"
	"enseek/internal/song"
)

const (
	DefaultLanguage = "en"
	DefaultCountry  = "US"

	endpointFormat = "https://amp.shazam.com/discovery/v5/%s/%s/android/-/tag"
	tagQuery       = "sync=true&webv3=true&sampling=true&connected=&shazamapiversion=v3&sharehub=true&hubv5minorversion=v5.1&hidelb=true&video=v3"
	userAgent      = "Dalvik/2.1.0 (Linux; U; Android 5.0.2; VS980 4G Build/LRX22G)"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the tag endpoint without the trailing uuids. Empty
	// means the public endpoint for Language and Country.
	Endpoint string
	Language string
	Country  string
	Timezone string

	HTTPClient *http.Client
}

// Match is a positive recognition result.
type Match struct {
	Items []song.MediaItem
}

// Client sends signatures to the tag endpoint.
type Client struct {
	endpoint string
	timezone string
	http     *http.Client
	log      *slog.Logger
}

// New creates a Client.
func New(opts Options, log *slog.Logger) *Client {
	lang, country := opts.Language, opts.Country
	if lang == "" {
		lang = DefaultLanguage
	}
	if country == "" {
		country = DefaultCountry
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(endpointFormat, lang, country)
	}

	tz := opts.Timezone
	if tz == "" {
		tz = time.Local.String()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{endpoint: endpoint, timezone: tz, http: client, log: log}
}

type tagRequest struct {
	Geolocation geolocation  `json:"geolocation"`
	Signature   tagSignature `json:"signature"`
	Timestamp   int64        `json:"timestamp"`
	Timezone    string       `json:"timezone"`
}

type geolocation struct {
	Altitude  float64 `json:"altitude"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type tagSignature struct {
	SampleMs  int    `json:"samplems"`
	Timestamp int64  `json:"timestamp"`
	URI       string `json:"uri"`
}

// tagResponse is the part of the tag response we read.
type tagResponse struct {
	Matches []struct {
		ID     string  `json:"id"`
		Offset float64 `json:"offset"`
	} `json:"matches"`
	Track *struct {
		Key      string `json:"key"`
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"`
		ISRC     string `json:"isrc"`
		URL      string `json:"url"`
		Images   struct {
			CoverArt   string `json:"coverart"`
			CoverArtHQ string `json:"coverarthq"`
		} `json:"images"`
	} `json:"track"`
}

func (r *tagResponse) match() *Match {
	if len(r.Matches) == 0 || r.Track == nil {
		return nil
	}
	cover := r.Track.Images.CoverArtHQ
	if cover == "" {
		cover = r.Track.Images.CoverArt
	}
	return &Match{Items: []song.MediaItem{{
		Title:      r.Track.Title,
		Artist:     r.Track.Subtitle,
		ArtworkURL: cover,
		ISRC:       r.Track.ISRC,
		ShazamKey:  r.Track.Key,
		WebURL:     r.Track.URL,
	}}}
}

// Recognize sends one signature. It returns a nil match and nil error when
// the service answered but found nothing.
func (c *Client) Recognize(ctx context.Context, sig *signature.DecodedMessage) (*Match, error) {
	uri, err := sig.EncodeToURI()
	if err != nil {
		return nil, &Error{Op: "encode signature", Err: err}
	}

	now := time.Now().UnixMilli()
	body, err := json.Marshal(tagRequest{
		Signature: tagSignature{
			SampleMs:  sig.DurationMillis(),
			Timestamp: now,
			URI:       uri,
		},
		Timestamp: now,
		Timezone:  c.timezone,
	})
	if err != nil {
		return nil, &Error{Op: "marshal request", Err: err}
	}

	reqURL := fmt.Sprintf("%s/%s/%s?%s", c.endpoint, uuid.New().String(), uuid.New().String(), tagQuery)
	if _, err := url.ParseRequestURI(reqURL); err != nil {
		return nil, &Error{Op: "build url", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: "send request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "tag", StatusCode: resp.StatusCode}
	}

	var tr tagResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &Error{Op: "decode response", Err: err}
	}

	m := tr.match()
	if m != nil {
		c.log.Debug("tag matched", "title", m.Items[0].Title, "artist", m.Items[0].Artist)
	} else {
		c.log.Debug("tag found no match", "samplems", sig.DurationMillis())
	}
	return m, nil
}
