package models

import "testing"

func TestTypedPayload(t *testing.T) {
	job := Job{Type: JobCreatePost, Payload: map[string]any{"format": "ig_carousel", "target_channel": "IG_ONLY"}}
	p, err := job.TypedPayload()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cp := p.(CreatePostPayload)
	if cp.Format != FormatCarousel || cp.TargetChannel != "IG_ONLY" {
		t.Fatalf("unexpected payload %+v", cp)
	}

	job = Job{Type: JobPublishPost, Payload: map[string]any{"post_id": "abc", "force": true}}
	p, err = job.TypedPayload()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pp := p.(PublishPostPayload); pp.PostID != "abc" || !pp.Force {
		t.Fatalf("expected post_id alias to be read, got %+v", pp)
	}

	job = Job{Type: JobCollectFeedback, Payload: map[string]any{"min_age_hours": 0.5}}
	p, err = job.TypedPayload()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fp := p.(CollectFeedbackPayload); fp.MinAgeHours == nil || *fp.MinAgeHours != 0.5 || fp.MaxPosts != nil {
		t.Fatalf("unexpected feedback payload %+v", fp)
	}

	if _, err := (Job{Type: JobCreatePost, Payload: map[string]any{"format": "REEL"}}).TypedPayload(); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if _, err := (Job{Type: "RESIZE"}).TypedPayload(); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestChannelTarget(t *testing.T) {
	cases := map[string]Channel{"IG": ChannelIG, "ig_only": ChannelIG, "FB_ONLY": ChannelFB, "": ChannelBoth, "IG_FB": ChannelBoth}
	for in, want := range cases {
		got, err := ParseChannelTarget(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseChannelTarget("TIKTOK"); err == nil {
		t.Fatalf("expected error for unknown target")
	}
	if ChannelFrom(true, false) != ChannelIG || ChannelFrom(true, true) != ChannelBoth || ChannelFrom(false, false) != "" {
		t.Fatalf("unexpected ChannelFrom results")
	}
}

func TestPostHelpers(t *testing.T) {
	p := GeneratedPost{Format: FormatCarousel, CarouselImages: []string{"a"}, ImageURL: "https://cdn/p.png"}
	if p.IsCarousel() {
		t.Fatalf("one image is not a carousel")
	}
	if p.PrimaryImage() != "https://cdn/p.png" {
		t.Fatalf("expected product image fallback, got %s", p.PrimaryImage())
	}

	p = GeneratedPost{Hook: "Hi", Body: "Body", Hashtags: "#x", CaptionFB: "fb only"}
	if p.Caption(ChannelIG) != "fb only" {
		t.Fatalf("expected IG to fall back to FB caption, got %q", p.Caption(ChannelIG))
	}
	p.CaptionFB = ""
	if got := p.Caption(ChannelFB); got != "Hi\n\nBody\n\n#x" {
		t.Fatalf("unexpected built caption %q", got)
	}
}

func TestProductImageValidation(t *testing.T) {
	for url, want := range map[string]bool{
		"https://cdn.test/a.jpg": true,
		"http://cdn.test/a.jpg":  true,
		"ftp://cdn.test/a.jpg":   false,
		"/local/a.jpg":           false,
		"https://":               false,
	} {
		if got := (Product{ImageURL: url}).HasValidImage(); got != want {
			t.Fatalf("%q: expected %v, got %v", url, want, got)
		}
	}
}
