// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package catalog holds the job and result model shared by the harvesting
// pipeline: the three-level channel/show/episode catalogs read from and
// written to disk, and the per-job candidate lists.
package catalog

import (
	"bytes"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Key identifies one episode within the channel/show/episode hierarchy.
type Key struct {
	Channel string
	Show    string
	Episode string
}

func (k Key) String() string {
	return k.Channel + "/" + k.Show + "/" + k.Episode
}

// Candidate is one named player page that might yield a manifest.
type Candidate struct {
	Label string
	URL   string
}

// Job is one episode to resolve. Jobs are immutable once created; the
// candidate order is the fallback order used when no affinity hint applies.
type Job struct {
	Key        Key
	Candidates []Candidate
}

// Result is the per-job outcome of a resolution attempt.
type Result struct {
	ManifestURL string
	Label       string
	Resolved    bool
}

// CandidateList decodes a JSON object of label -> player URL while
// preserving member order. encoding/json maps randomize order, and the
// fallback order of candidates is significant.
type CandidateList []Candidate

func (l *CandidateList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*l = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("candidate list: expected object, got %v", tok)
	}

	var out CandidateList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := keyTok.(string)
		if !ok {
			return errors.Errorf("candidate list: expected string key, got %v", keyTok)
		}

		var candidateURL string
		if err := dec.Decode(&candidateURL); err != nil {
			return errors.Wrapf(err, "candidate list: value for %q", label)
		}
		out = append(out, Candidate{Label: label, URL: candidateURL})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*l = out
	return nil
}

func (l CandidateList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		label, err := json.Marshal(c.Label)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(c.URL)
		if err != nil {
			return nil, err
		}
		buf.Write(label)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Input is the three-level player catalog produced by discovery.
type Input map[string]map[string]map[string]CandidateList

// Load reads the input catalog and flattens it into jobs. Job order is
// made deterministic by sorting keys; the scheduler imposes no ordering
// between jobs anyway.
func Load(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}

	var input Input
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", path)
	}

	var jobs []Job
	for channel, shows := range input {
		for show, episodes := range shows {
			for episode, candidates := range episodes {
				if len(candidates) == 0 {
					continue
				}
				jobs = append(jobs, Job{
					Key:        Key{Channel: channel, Show: show, Episode: episode},
					Candidates: candidates,
				})
			}
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Key.String() < jobs[j].Key.String()
	})

	return jobs, nil
}

// Save writes the input catalog as indented JSON.
func (in Input) Save(path string) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal player catalog")
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create catalog directory")
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write player catalog %s", path)
	}
	return nil
}

// Resolution is one resolved entry of the output catalog.
type Resolution struct {
	ManifestURL string `json:"m3u8_url"`
	Player      string `json:"player_used"`
}

// Output is the resolved catalog, isomorphic to the input. Unresolved
// episodes carry a null entry.
type Output map[string]map[string]map[string]*Resolution

// Set records a job outcome, creating intermediate levels as needed.
// A resolved entry is never replaced by an unresolved one.
func (o Output) Set(key Key, res Result) {
	shows, ok := o[key.Channel]
	if !ok {
		shows = make(map[string]map[string]*Resolution)
		o[key.Channel] = shows
	}
	episodes, ok := shows[key.Show]
	if !ok {
		episodes = make(map[string]*Resolution)
		shows[key.Show] = episodes
	}

	if !res.Resolved {
		if _, exists := episodes[key.Episode]; !exists {
			episodes[key.Episode] = nil
		}
		return
	}

	episodes[key.Episode] = &Resolution{ManifestURL: res.ManifestURL, Player: res.Label}
}

// Save writes the output catalog as indented JSON.
func (o Output) Save(path string) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal resolved catalog")
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create catalog directory")
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write resolved catalog %s", path)
	}
	return nil
}

var unsafeRunes = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// SafeName collapses every run of characters outside [A-Za-z0-9] to a
// single underscore and strips leading/trailing underscores. Applying it
// twice yields the same result.
func SafeName(s string) string {
	return strings.Trim(unsafeRunes.ReplaceAllString(s, "_"), "_")
}

// ManifestPath derives the deterministic on-disk location of a job's
// rewritten manifest.
func ManifestPath(baseDir string, key Key) string {
	return filepath.Join(baseDir,
		SafeName(key.Channel),
		SafeName(key.Show),
		SafeName(key.Episode)+".m3u8",
	)
}

// Origin extracts the scheme://host portion of a URL. It is the affinity
// cache key and the Referer/Origin value used when fetching manifests.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
