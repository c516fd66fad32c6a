// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package discovery scrapes the configured show listing pages and builds
// the input player catalog the harvest pipeline consumes.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/autovod/harvestarr/internal/catalog"
	"github.com/autovod/harvestarr/internal/pkg/epdate"
)

// Config drives one discovery run.
type Config struct {
	// BaseURL is the listing site root; show pages live under
	// BaseURL/category/<channel>/<show>/.
	BaseURL string
	// Channels maps a channel slug to its show slugs.
	Channels map[string][]string
	// KeepDays is the recency window: episodes dated further back than
	// this many days are skipped.
	KeepDays int
	// UserAgent is sent on every request.
	UserAgent string
	Timeout   time.Duration
}

// Scraper walks show pages and their episodes.
type Scraper struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

type episode struct {
	Title string
	URL   string
}

// New builds a scraper.
func New(cfg Config) *Scraper {
	if cfg.KeepDays <= 0 {
		cfg.KeepDays = 7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Scraper{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

// Run scrapes every configured show and returns the player catalog. Show
// failures are logged and skipped; the run only fails when nothing could
// be built at all.
func (s *Scraper) Run(ctx context.Context) (catalog.Input, error) {
	input := catalog.Input{}

	for channel, shows := range s.cfg.Channels {
		channelOut := map[string]map[string]catalog.CandidateList{}

		for _, show := range shows {
			showURL := fmt.Sprintf("%s/category/%s/%s/", strings.TrimSuffix(s.cfg.BaseURL, "/"), channel, show)
			episodes, err := s.episodeLinks(ctx, showURL)
			if err != nil {
				log.Warn().Err(err).Str("show", show).Str("url", showURL).Msg("failed to fetch show page")
				continue
			}
			if len(episodes) == 0 {
				log.Debug().Str("show", show).Int("keepDays", s.cfg.KeepDays).Msg("no recent episodes")
				continue
			}

			showOut := map[string]catalog.CandidateList{}
			for _, ep := range episodes {
				players, err := s.players(ctx, ep.URL)
				if err != nil {
					log.Warn().Err(err).Str("episode", ep.Title).Msg("failed to fetch episode page")
					continue
				}
				showOut[ep.Title] = players
				log.Debug().Str("episode", ep.Title).Int("players", len(players)).Msg("episode discovered")
			}
			if len(showOut) > 0 {
				channelOut[show] = showOut
			}
		}

		if len(channelOut) > 0 {
			input[channel] = channelOut
		}
	}

	if len(input) == 0 {
		return nil, fmt.Errorf("discovery produced an empty catalog")
	}
	return input, nil
}

// episodeLinks lists a show page's episodes within the recency window.
// Previews and promos carry no full episode and are filtered out.
func (s *Scraper) episodeLinks(ctx context.Context, showURL string) ([]episode, error) {
	doc, err := s.get(ctx, showURL)
	if err != nil {
		return nil, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	window := time.Duration(s.cfg.KeepDays) * 24 * time.Hour

	var episodes []episode
	doc.Find("div[class*='layout_post_1'] h4 a").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		href, ok := sel.Attr("href")
		if !ok || title == "" {
			return
		}

		lower := strings.ToLower(title)
		if strings.Contains(lower, "preview") || strings.Contains(lower, "promo") {
			return
		}

		date, ok := epdate.FromTitle(title)
		if !ok || today.Sub(date) > window {
			return
		}
		episodes = append(episodes, episode{Title: title, URL: href})
	})
	return episodes, nil
}

// players extracts the "watch online" player links from an episode page.
// Each player is announced by a bold span followed by a paragraph holding
// the link; the span text becomes the candidate label.
func (s *Scraper) players(ctx context.Context, episodeURL string) (catalog.CandidateList, error) {
	doc, err := s.get(ctx, episodeURL)
	if err != nil {
		return nil, err
	}

	paragraphs := doc.Find("p")
	var players catalog.CandidateList

	paragraphs.Each(func(i int, p *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(p.Find("b span").First().Text()))
		if !strings.Contains(label, "watch online") {
			return
		}
		if i+1 >= paragraphs.Length() {
			return
		}
		href, ok := paragraphs.Eq(i + 1).Find("a").First().Attr("href")
		if !ok {
			return
		}
		players = append(players, catalog.Candidate{Label: label, URL: href})
	})
	return players, nil
}

func (s *Scraper) get(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}
