package frame

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"camrand/rngpool/model"
)

// noisePNG renders a deterministic pseudo-noise image so tests can replay
// the exact same frame bytes.
func noisePNG(t *testing.T, w, h int, seed uint32) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	state := seed
	for i := 0; i < len(img.Pix); i += 4 {
		state = state*1664525 + 1013904223
		img.Pix[i] = byte(state >> 24)
		img.Pix[i+1] = byte(state >> 16)
		img.Pix[i+2] = byte(state >> 8)
		img.Pix[i+3] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func endpoint(url string) *model.SourceEndpoint {
	return &model.SourceEndpoint{URL: url, Kind: model.KindSnapshot}
}

func newProcessor(t *testing.T, cw, ch, window int) *Processor {
	t.Helper()
	p, err := New(cw, ch, window)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestRejectsUndecodablePayload(t *testing.T) {
	p := newProcessor(t, 10, 10, 4)
	sample, failure := p.Process(endpoint("http://a/x.jpg"), []byte("definitely not an image"), time.Millisecond)
	if sample != nil || failure != model.FailureDecode {
		t.Errorf("expected decode_error, got sample=%v failure=%q", sample, failure)
	}
}

func TestRejectsFrameSmallerThanRegion(t *testing.T) {
	p := newProcessor(t, 100, 100, 4)
	payload := noisePNG(t, 50, 50, 1)
	sample, failure := p.Process(endpoint("http://a/x.jpg"), payload, time.Millisecond)
	if sample != nil || failure != model.FailureTooSmall {
		t.Errorf("expected frame_too_small, got sample=%v failure=%q", sample, failure)
	}
}

func TestAcceptedSampleShape(t *testing.T) {
	p := newProcessor(t, 10, 10, 4)
	payload := noisePNG(t, 64, 48, 2)
	sample, failure := p.Process(endpoint("http://a/x.jpg"), payload, 123*time.Millisecond)
	if failure != "" {
		t.Fatalf("unexpected failure %q", failure)
	}
	if len(sample.Region) != 10*10*3 {
		t.Errorf("region size = %d, want %d", len(sample.Region), 10*10*3)
	}
	if sample.X < 0 || sample.X > 64-10 || sample.Y < 0 || sample.Y > 48-10 {
		t.Errorf("crop origin (%d,%d) outside frame bounds", sample.X, sample.Y)
	}
	if sample.PayloadSize != len(payload) {
		t.Errorf("payload size = %d, want %d", sample.PayloadSize, len(payload))
	}
	if sample.Latency != 123*time.Millisecond {
		t.Errorf("latency not carried through")
	}
}

func TestDuplicateFromSameEndpointRejected(t *testing.T) {
	p := newProcessor(t, 10, 10, 4)
	payload := noisePNG(t, 32, 32, 3)

	if _, failure := p.Process(endpoint("http://a/x.jpg"), payload, 0); failure != "" {
		t.Fatalf("first frame should be accepted, got %q", failure)
	}
	if _, failure := p.Process(endpoint("http://a/x.jpg"), payload, 0); failure != model.FailureDuplicate {
		t.Errorf("expected duplicate_frame from same endpoint, got %q", failure)
	}
	// The same scene from a different endpoint is legitimate.
	if _, failure := p.Process(endpoint("http://b/y.jpg"), payload, 0); failure != "" {
		t.Errorf("identical frame from different endpoint should be accepted, got %q", failure)
	}
}

func TestDedupWindowExpires(t *testing.T) {
	p := newProcessor(t, 10, 10, 2)
	ep := endpoint("http://a/x.jpg")
	frameA := noisePNG(t, 32, 32, 10)
	frameB := noisePNG(t, 32, 32, 11)
	frameC := noisePNG(t, 32, 32, 12)

	for i, payload := range [][]byte{frameA, frameB, frameC} {
		if _, failure := p.Process(ep, payload, 0); failure != "" {
			t.Fatalf("frame %d rejected: %q", i, failure)
		}
	}
	// frameA has fallen out of the 2-entry window by now.
	if _, failure := p.Process(ep, frameA, 0); failure != "" {
		t.Errorf("frame outside dedup window should be accepted again, got %q", failure)
	}
}

func TestCropOriginIsDeterministicPerFrame(t *testing.T) {
	p := newProcessor(t, 10, 10, 4)
	payload := noisePNG(t, 64, 64, 5)

	// Same frame content through the same processor gives the same
	// coordinates; different endpoints dodge the dedup check.
	s1, failure := p.Process(endpoint("http://a/x.jpg"), payload, 0)
	if failure != "" {
		t.Fatalf("unexpected failure %q", failure)
	}
	s2, failure := p.Process(endpoint("http://b/y.jpg"), payload, 0)
	if failure != "" {
		t.Fatalf("unexpected failure %q", failure)
	}
	if s1.X != s2.X || s1.Y != s2.Y {
		t.Errorf("coordinates differ for identical content: (%d,%d) vs (%d,%d)", s1.X, s1.Y, s2.X, s2.Y)
	}
	if !bytes.Equal(s1.Region, s2.Region) {
		t.Error("regions differ for identical content")
	}
}

func TestForgetDropsDedupState(t *testing.T) {
	p := newProcessor(t, 10, 10, 4)
	ep := endpoint("http://a/x.jpg")
	payload := noisePNG(t, 32, 32, 6)

	if _, failure := p.Process(ep, payload, 0); failure != "" {
		t.Fatalf("first frame rejected: %q", failure)
	}
	p.Forget(ep.URL)
	if _, failure := p.Process(ep, payload, 0); failure != "" {
		t.Errorf("frame after Forget should be accepted, got %q", failure)
	}
}
