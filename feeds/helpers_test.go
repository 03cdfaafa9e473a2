package feeds

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const gamesRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>GameVicio</title>
  <link>https://www.gamevicio.com</link>
  <item>
    <title>Older with enclosure</title>
    <link>https://www.gamevicio.com/older</link>
    <pubDate>Mon, 10 Jun 2024 09:00:00 +0000</pubDate>
    <category>Games</category>
    <enclosure url="https://cdn.ex.test/img/older.jpg" type="image/jpeg" length="100"/>
  </item>
  <item>
    <title>Newest with inline image</title>
    <link>https://www.gamevicio.com/newest</link>
    <pubDate>Tue, 11 Jun 2024 14:35:49 +0000</pubDate>
    <category>Games</category>
    <category>PC</category>
    <description><![CDATA[<p>Intro</p><img class="x" src="https://cdn.ex.test/img/newest.png" alt=""/><img src="https://cdn.ex.test/img/second.png"/>]]></description>
  </item>
  <item>
    <title>Sponsored</title>
    <link>https://www.gamevicio.com/ad</link>
    <pubDate>Tue, 11 Jun 2024 15:00:00 +0000</pubDate>
    <category>Affiliation</category>
  </item>
  <item>
    <title>Undated</title>
    <link>https://www.gamevicio.com/undated</link>
    <pubDate>sometime last week</pubDate>
  </item>
</channel>
</rss>`

const personalRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Meu Feed</title>
  <item>
    <title>My own post</title>
    <link>https://news.ex.test/mine</link>
    <pubDate>Mon, 10 Jun 2024 12:00:00 +0000</pubDate>
    <description>No images here</description>
  </item>
</channel>
</rss>`

// sourceServer serves fixed bodies per path and counts requests.
type sourceServer struct {
	*httptest.Server

	mu     sync.Mutex
	calls  map[string]int
	routes map[string]func(attempt int) (int, string, string)
}

func newSourceServer(t *testing.T) *sourceServer {
	t.Helper()
	s := &sourceServer{
		calls:  make(map[string]int),
		routes: make(map[string]func(int) (int, string, string)),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *sourceServer) handle(path string, fn func(attempt int) (status int, contentType string, body string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = fn
}

func (s *sourceServer) static(path string, status int, contentType, body string) {
	s.handle(path, func(int) (int, string, string) { return status, contentType, body })
}

func (s *sourceServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	attempt := s.calls[r.URL.Path]
	fn, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	status, contentType, body := fn(attempt)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *sourceServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func testFetchConfig() FetchConfig {
	return FetchConfig{
		Client:          &http.Client{Timeout: 5 * time.Second},
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
	}
}
