package scraper

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScrapeDirectoryPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Query().Get("p") == "2" {
			fmt.Fprint(w, `<html><body>
				<img src="/live/cam2.jpg">
			</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<img src="/assets/logo.png">
			<img src="/live/cam1.jpg">
			<img src="/snapshot?id=42">
			<a href="/?p=2">next page</a>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewDirectoryScraper([]string{srv.URL + "/"}, 50)
	found, err := s.Scrape()
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}

	want := map[string]bool{
		srv.URL + "/live/cam1.jpg":  true,
		srv.URL + "/snapshot?id=42": true,
		srv.URL + "/live/cam2.jpg":  true,
	}
	if len(found) != len(want) {
		t.Fatalf("found %d URLs %v, want %d", len(found), found, len(want))
	}
	for _, u := range found {
		if !want[u] {
			t.Errorf("unexpected URL harvested: %s", u)
		}
	}
}

func TestScrapeRespectsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `<img src="/cam%d.jpg">`, i)
		}
	}))
	defer srv.Close()

	s := NewDirectoryScraper([]string{srv.URL + "/"}, 3)
	found, err := s.Scrape()
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(found) != 3 {
		t.Errorf("found %d URLs, want the cap of 3", len(found))
	}
}

func TestLooksLikeSnapshot(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"http://cams.example/axis-cgi/jpg/image.cgi", true},
		{"https://cams.example/live/current.JPEG", true},
		{"http://cams.example/mjpg/video.mjpg", true},
		{"http://cams.example/assets/logo.png", false},
		{"http://my.webcam-directory.example/static/banner.png", false},
		{"http://anything.example/snapshot?id=7", true},
		{"/relative/cam.jpg", false},
		{"ftp://cams.example/cam.jpg", false},
	}
	for _, tc := range cases {
		if got := looksLikeSnapshot(tc.url); got != tc.want {
			t.Errorf("looksLikeSnapshot(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
