package fetcher

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"camrand/internal/shared/logger"
	"camrand/rngpool/model"
)

// fetchFromHTMLPage handles endpoints that serve a camera landing page
// instead of a raw image: it parses the page, shuffles the embedded <img>
// candidates and fetches them until one yields an acceptable image.
func (f *Fetcher) fetchFromHTMLPage(ctx context.Context, resp *http.Response) ([]byte, model.FailureKind, error) {
	l := logger.WithComponent("RngPool/Fetcher")

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, int64(f.maxSnapshot)))
	if err != nil {
		return nil, model.FailureDecode, err
	}

	var candidates []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			candidates = append(candidates, src)
		}
	})
	if len(candidates) == 0 {
		return nil, model.FailureDecode, errors.New("page embeds no images")
	}

	// Random selection between multiple embedded images, as an extra
	// guard against a page steering which pixels get mixed.
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	base := resp.Request.URL
	for _, src := range candidates {
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		imgURL := base.ResolveReference(ref).String()

		imgResp, err := f.get(ctx, imgURL)
		if err != nil {
			l.Debug().Str("url", imgURL).Err(err).Msg("Embedded image fetch failed.")
			continue
		}
		contentType := strings.ToLower(imgResp.Header.Get("Content-Type"))
		if imgResp.StatusCode != http.StatusOK || !strings.Contains(contentType, "image") {
			imgResp.Body.Close()
			continue
		}
		payload, failure, err := f.readSnapshot(imgResp.Body)
		imgResp.Body.Close()
		if failure != "" {
			l.Debug().Str("url", imgURL).Err(err).Msg("Embedded image rejected.")
			continue
		}
		return payload, "", nil
	}

	return nil, model.FailureDecode, errors.New("no usable image found in page")
}
