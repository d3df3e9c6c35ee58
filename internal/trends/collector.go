package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comfy-studio/internal/store"
)

// Config controls what the collector fetches and keeps.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	MinScore  int           `yaml:"min_score"`
	ImageDir  string        `yaml:"image_dir"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Collector pulls trending posts from a reddit-style JSON listing feed,
// filters them by score, and persists them as Trend records.
type Collector struct {
	cfg    Config
	client *http.Client
	store  store.Store
	logger *slog.Logger
}

func NewCollector(cfg Config, st store.Store, logger *slog.Logger) *Collector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "comfy-studio/1.0"
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 1000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Collector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		store:  st,
		logger: logger.With("component", "trends"),
	}
}

// listing mirrors the feed's JSON envelope. Only the fields the collector
// reads are declared.
type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID    string `json:"id"`
				Title string `json:"title"`
				Score int    `json:"score"`
				URL   string `json:"url"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Collect fetches the hot listing for one feed, keeps posts at or above the
// score threshold, downloads directly-linked images, and stores the result.
// Posts that fail to download are kept without an image.
func (c *Collector) Collect(ctx context.Context, feed string, limit int) ([]*store.Trend, error) {
	if limit <= 0 {
		limit = 25
	}
	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", strings.TrimSuffix(c.cfg.BaseURL, "/"), url.PathEscape(feed), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", feed, resp.StatusCode)
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("decode %s listing: %w", feed, err)
	}

	var collected []*store.Trend
	for _, child := range l.Data.Children {
		post := child.Data
		if post.Score < c.cfg.MinScore {
			continue
		}
		tr := &store.Trend{
			ID:          post.ID,
			Title:       post.Title,
			Score:       post.Score,
			URL:         post.URL,
			CollectedAt: time.Now(),
		}
		if path := c.downloadImage(ctx, post.ID, post.URL); path != "" {
			tr.ImagePaths = []string{path}
		}
		if c.store != nil {
			if err := c.store.SaveTrend(tr); err != nil {
				c.logger.Error("save trend", "id", tr.ID, "err", err)
				continue
			}
		}
		collected = append(collected, tr)
	}

	c.logger.Info("collected trends", "feed", feed, "kept", len(collected), "seen", len(l.Data.Children))
	return collected, nil
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// downloadImage fetches a directly-linked image into the image directory.
// Returns "" when the URL is not an image link or the download fails.
func (c *Collector) downloadImage(ctx context.Context, id, rawURL string) string {
	if c.cfg.ImageDir == "" || rawURL == "" {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(rawURL))
	if !imageExtensions[ext] {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("download image", "url", rawURL, "err", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	if err := os.MkdirAll(c.cfg.ImageDir, 0o755); err != nil {
		c.logger.Warn("create image dir", "err", err)
		return ""
	}
	path := filepath.Join(c.cfg.ImageDir, id+ext)
	f, err := os.Create(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		c.logger.Warn("write image", "path", path, "err", err)
		os.Remove(path)
		return ""
	}
	return path
}
