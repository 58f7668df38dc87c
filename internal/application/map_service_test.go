package application

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/mesh"
	"github.com/jobrunner/climap/internal/ports/input"
	"github.com/jobrunner/climap/internal/render"
	"github.com/jobrunner/climap/internal/viewport"
)

var (
	_ input.MapService = (*MapService)(nil)
	_ input.MapSession = (*Session)(nil)
)

// zoomedScale is the scale after one zoom-in step from the default view.
const zoomedScale = viewport.ZoomInFactor

type mapFixture struct {
	service  *MapService
	registry *DatasetRegistry
	meshes   *mesh.Cache
	storage  *mockStorage
}

func newMapFixture(t *testing.T, boundaries BoundaryProvider, imageKey string, cfg MapConfig) *mapFixture {
	t.Helper()
	storage := &mockStorage{content: map[string][]byte{}}
	reader := &mockReader{datasets: map[string]*domain.Dataset{
		"datasets/t2m.json": constantDataset("t2m", 7),
	}}
	registry := NewDatasetRegistry(reader, storage, nil, testLogger(), "datasets")
	if err := registry.LoadDataset(context.Background(), "datasets/t2m.json"); err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}

	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 200, 100
	}
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.FrameInterval = time.Millisecond
	cfg.FullDownsamples = []int{2, 1}

	meshes := mesh.NewCache(4, nil)
	imagery := NewImageryLoader(storage, imageKey, 1, testLogger())
	svc := NewMapService(registry, meshes, boundaries, imagery, nil, cfg, testLogger())
	t.Cleanup(svc.Close)
	return &mapFixture{service: svc, registry: registry, meshes: meshes, storage: storage}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// fullFrameAt reports whether the session committed the last full pass for
// a view at scale.
func fullFrameAt(s *Session, scale float64) func() bool {
	return func() bool {
		f, ok := s.Frame()
		return ok && f.Final && f.Quality == domain.QualityFull && math.Abs(f.View.Scale-scale) < 1e-9
	}
}

func opacity(v float64) *float64 { return &v }

func t2mLayer() *domain.RenderParams {
	return &domain.RenderParams{DatasetID: "t2m"}
}

func TestMapServiceOpenRendersFullFrame(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})

	sess, err := fx.service.Open(context.Background(), input.SessionOptions{Layer: t2mLayer()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitFor(t, "first full frame", fullFrameAt(sess, 1))

	f, _ := sess.Frame()
	if b := f.Image.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("frame is %dx%d, want 200x100", b.Dx(), b.Dy())
	}
	if a := f.Image.RGBAAt(100, 50).A; a == 0 {
		t.Error("centre pixel should be drawn")
	}
	if a := f.Image.RGBAAt(0, 0).A; a != 0 {
		t.Errorf("corner alpha = %d, want 0", a)
	}
	if sess.Layer().Ramp == "" {
		t.Error("default ramp not applied")
	}
	if fx.service.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", fx.service.SessionCount())
	}
}

func TestMapServiceOpenValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    input.SessionOptions
		wantErr error
	}{
		{"negative width", input.SessionOptions{Width: -1}, domain.ErrInvalidInput},
		{"too tall", input.SessionOptions{Height: MaxDimension + 1}, domain.ErrInvalidInput},
		{"bad pixel ratio", input.SessionOptions{PixelRatio: -2}, domain.ErrInvalidInput},
		{"unknown ramp", input.SessionOptions{Layer: &domain.RenderParams{Ramp: "rainbow"}}, domain.ErrUnknownRamp},
		{"unknown dataset", input.SessionOptions{Layer: &domain.RenderParams{DatasetID: "sst"}}, domain.ErrDatasetNotFound},
		{"opacity", input.SessionOptions{Layer: &domain.RenderParams{Opacity: opacity(1.5)}}, domain.ErrInvalidInput},
		{"block step", input.SessionOptions{Layer: &domain.RenderParams{BlockStep: -1}}, domain.ErrInvalidInput},
	}

	fx := newMapFixture(t, nil, "", MapConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.service.Open(context.Background(), tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if fx.service.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", fx.service.SessionCount())
	}
}

func TestMapServiceSessionLimit(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{MaxSessions: 1})
	ctx := context.Background()

	first, err := fx.service.Open(ctx, input.SessionOptions{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := fx.service.Open(ctx, input.SessionOptions{}); !errors.Is(err, domain.ErrTooManySessions) {
		t.Fatalf("second Open error = %v, want ErrTooManySessions", err)
	}
	if err := fx.service.CloseSession(first.ID()); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := fx.service.Open(ctx, input.SessionOptions{}); err != nil {
		t.Errorf("Open after close failed: %v", err)
	}
}

func TestMapServiceCloseSession(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ch, _ := sess.Subscribe()

	if err := fx.service.CloseSession(sess.ID()); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := fx.service.Session(sess.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Session() error = %v, want ErrSessionNotFound", err)
	}
	if err := fx.service.CloseSession(sess.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("second CloseSession error = %v", err)
	}

	err = sess.HandleEvent(ctx, viewport.Event{Type: viewport.Wheel, X: 1, Y: 1, DeltaY: -1})
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("HandleEvent after close = %v, want ErrSessionClosed", err)
	}
	for range ch {
	}
	late, _ := sess.Subscribe()
	if _, open := <-late; open {
		t.Error("subscription after close should be closed")
	}
}

func TestSessionQuery(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{PixelRatio: 2, Layer: t2mLayer()})
	if err != nil {
		t.Fatal(err)
	}

	info, err := sess.Query(ctx, 50, 25)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if info.Value == nil || *info.Value != 7 {
		t.Errorf("Value = %v, want 7", info.Value)
	}
	if info.Units != "K" {
		t.Errorf("Units = %q, want K", info.Units)
	}
	if math.Abs(info.Lat) > 1e-3 || math.Abs(info.Lon) > 1e-3 {
		t.Errorf("point = (%v, %v), want (0, 0)", info.Lat, info.Lon)
	}

	if _, err := sess.Query(ctx, 0, 0); !errors.Is(err, domain.ErrNoGeographicPoint) {
		t.Errorf("Query off the globe = %v, want ErrNoGeographicPoint", err)
	}
	if _, err := sess.Query(ctx, math.NaN(), 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Query NaN = %v, want ErrInvalidInput", err)
	}
}

func TestSessionQueryWithoutDataset(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	info, err := sess.Query(ctx, 100, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if info.Value != nil || info.Units != "" {
		t.Errorf("info = %+v, want no value", info)
	}
}

func TestSessionWheelZoom(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{Layer: t2mLayer()})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first full frame", fullFrameAt(sess, 1))

	if err := sess.HandleEvent(ctx, viewport.Event{Type: viewport.Wheel, X: 100, Y: 50, DeltaY: -1}); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	waitFor(t, "settled frame", fullFrameAt(sess, zoomedScale))

	if err := sess.HandleEvent(ctx, viewport.Event{Type: "tap"}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Errorf("invalid event error = %v, want ErrInvalidEvent", err)
	}
}

func TestSessionClickPublishesRegion(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{Layer: t2mLayer()})
	if err != nil {
		t.Fatal(err)
	}
	ch, cancel := sess.Subscribe()
	defer cancel()

	for _, e := range []viewport.Event{
		{Type: viewport.PointerDown, X: 100, Y: 50},
		{Type: viewport.PointerUp, X: 101, Y: 50},
	} {
		if err := sess.HandleEvent(ctx, e); err != nil {
			t.Fatalf("HandleEvent(%s) failed: %v", e.Type, err)
		}
	}

	timeout := time.After(3 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			if u.Region == nil {
				continue
			}
			if u.Region.Value == nil || *u.Region.Value != 7 {
				t.Errorf("Region.Value = %v, want 7", u.Region.Value)
			}
			return
		case <-timeout:
			t.Fatal("no region update")
		}
	}
}

func TestSessionBoundaries(t *testing.T) {
	var coords []domain.GeoPoint
	for lon := -60.0; lon <= 60; lon++ {
		coords = append(coords, domain.GeoPoint{Lon: lon, Lat: 0})
	}
	bounds := &mockBoundaries{features: []domain.BoundaryFeature{
		{ID: "equator", Coordinates: coords, Kind: domain.KindGeographicLines},
	}}
	fx := newMapFixture(t, bounds, "", MapConfig{})

	sess, err := fx.service.Open(context.Background(), input.SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "boundary paths", func() bool { return len(sess.Boundaries()) > 0 })

	paths := sess.Boundaries()
	if paths[0].FeatureID != "equator" || paths[0].Kind != domain.KindGeographicLines {
		t.Errorf("path = %+v", paths[0])
	}
	tiers := bounds.requested()
	if len(tiers) == 0 || tiers[0] != domain.TierCoarse {
		t.Errorf("tiers = %v, want coarse first", tiers)
	}
}

func TestSessionSetLayer(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := sess.SetLayer(ctx, domain.RenderParams{Ramp: "rainbow"}); !errors.Is(err, domain.ErrUnknownRamp) {
		t.Errorf("SetLayer error = %v, want ErrUnknownRamp", err)
	}
	if err := sess.SetLayer(ctx, domain.RenderParams{DatasetID: "t2m", Ramp: "plasma", Shading: domain.ShadingFlat}); err != nil {
		t.Fatalf("SetLayer failed: %v", err)
	}
	layer := sess.Layer()
	if layer.DatasetID != "t2m" || layer.Ramp != "plasma" || layer.Shading != domain.ShadingFlat {
		t.Errorf("Layer() = %+v", layer)
	}
	waitFor(t, "mesh built", func() bool { return fx.meshes.Len() > 0 })
}

func TestSessionSetViewClamps(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.SetView(ctx, domain.ViewState{Scale: 50, Offset: domain.Offset{X: 1e6}}); err != nil {
		t.Fatalf("SetView failed: %v", err)
	}
	v := sess.View()
	if v.Scale != domain.MaxScale {
		t.Errorf("Scale = %v, want %v", v.Scale, domain.MaxScale)
	}
	if v.Offset.X >= 1e6 {
		t.Errorf("Offset.X = %v, want clamped", v.Offset.X)
	}
	if err := sess.SetView(ctx, domain.ViewState{Scale: math.Inf(1)}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("SetView(Inf) error = %v", err)
	}
}

func TestSessionResize(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Resize(ctx, 300, 150); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	waitFor(t, "resized frame", func() bool {
		f, ok := sess.Frame()
		return ok && f.Final && f.Image.Bounds().Dx() == 300 && f.Image.Bounds().Dy() == 150
	})
	if err := sess.Resize(ctx, 0, -5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Resize error = %v, want ErrInvalidInput", err)
	}
}

func TestMapServiceDatasetUnloadInvalidatesMeshes(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	sess, err := fx.service.Open(ctx, input.SessionOptions{Layer: t2mLayer()})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first full frame", fullFrameAt(sess, 1))
	if fx.meshes.Len() != 1 {
		t.Fatalf("meshes.Len() = %d, want 1", fx.meshes.Len())
	}

	if err := fx.registry.UnloadDataset(ctx, "t2m"); err != nil {
		t.Fatal(err)
	}
	if fx.meshes.Len() != 0 {
		t.Errorf("meshes.Len() = %d after unload, want 0", fx.meshes.Len())
	}
}

func TestSessionBaseImagery(t *testing.T) {
	red := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for i := 0; i < len(red.Pix); i += 4 {
		copy(red.Pix[i:i+4], []uint8{255, 0, 0, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, red); err != nil {
		t.Fatal(err)
	}

	fx := newMapFixture(t, nil, "imagery/base.png", MapConfig{})
	fx.storage.content["imagery/base.png"] = buf.Bytes()

	sess, err := fx.service.Open(context.Background(), input.SessionOptions{
		Layer: &domain.RenderParams{ShowBase: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := color.RGBA{R: 255, A: 255}
	waitFor(t, "base imagery frame", func() bool {
		f, ok := sess.Frame()
		return ok && f.Final && f.Image.RGBAAt(100, 50) == want
	})
}

func TestMapServiceRenderImage(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	ctx := context.Background()

	img, err := fx.service.RenderImage(ctx, *t2mLayer(), domain.DefaultView(), 120, 60)
	if err != nil {
		t.Fatalf("RenderImage failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 60 {
		t.Errorf("image is %dx%d, want 120x60", b.Dx(), b.Dy())
	}
	if img.RGBAAt(60, 30).A == 0 {
		t.Error("centre pixel should be drawn")
	}

	if _, err := fx.service.RenderImage(ctx, domain.RenderParams{Ramp: "nope"}, domain.DefaultView(), 10, 10); !errors.Is(err, domain.ErrUnknownRamp) {
		t.Errorf("err = %v, want ErrUnknownRamp", err)
	}
	if _, err := fx.service.RenderImage(ctx, domain.RenderParams{}, domain.DefaultView(), MaxDimension+1, 10); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestMapServiceRenderImageOpacity(t *testing.T) {
	tests := []struct {
		name    string
		opacity *float64
		want    uint8
	}{
		{"unset", nil, 255},
		{"opaque", opacity(1), 255},
		{"half", opacity(0.5), 128},
		{"hidden", opacity(0), 0},
	}

	fx := newMapFixture(t, nil, "", MapConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer := *t2mLayer()
			layer.Opacity = tt.opacity
			img, err := fx.service.RenderImage(context.Background(), layer, domain.DefaultView(), 120, 60)
			if err != nil {
				t.Fatalf("RenderImage failed: %v", err)
			}
			a := img.RGBAAt(60, 30).A
			if diff := int(a) - int(tt.want); diff < -1 || diff > 1 {
				t.Errorf("centre alpha = %d, want %d", a, tt.want)
			}
		})
	}
}

func encodedSolid(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMapServiceRenderImageOverlays(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	fx.storage.content["overlays/red.png"] = encodedSolid(t, color.NRGBA{R: 255, A: 255})
	fx.storage.content["overlays/blue.png"] = encodedSolid(t, color.NRGBA{B: 255, A: 255})
	ctx := context.Background()

	tests := []struct {
		name string
		refs []domain.OverlayRef
		want color.RGBA
	}{
		{"later overlay on top", []domain.OverlayRef{{Key: "overlays/red.png"}, {Key: "overlays/blue.png"}}, color.RGBA{B: 255, A: 255}},
		{"reversed", []domain.OverlayRef{{Key: "overlays/blue.png"}, {Key: "overlays/red.png"}}, color.RGBA{R: 255, A: 255}},
		{"hidden overlay", []domain.OverlayRef{{Key: "overlays/red.png"}, {Key: "overlays/blue.png", Opacity: opacity(0)}}, color.RGBA{R: 255, A: 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer := *t2mLayer()
			layer.Overlays = tt.refs
			img, err := fx.service.RenderImage(ctx, layer, domain.DefaultView(), 120, 60)
			if err != nil {
				t.Fatalf("RenderImage failed: %v", err)
			}
			if got := img.RGBAAt(60, 30); got != tt.want {
				t.Errorf("centre = %+v, want %+v", got, tt.want)
			}
		})
	}

	layer := *t2mLayer()
	layer.Overlays = []domain.OverlayRef{{Key: "overlays/missing.png"}}
	var loadErr *domain.LoadError
	if _, err := fx.service.RenderImage(ctx, layer, domain.DefaultView(), 120, 60); !errors.As(err, &loadErr) {
		t.Errorf("err = %v, want LoadError", err)
	}

	layer.Overlays = []domain.OverlayRef{{Key: "../etc/passwd"}}
	if _, err := fx.service.RenderImage(ctx, layer, domain.DefaultView(), 120, 60); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSessionOverlays(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	fx.storage.content["overlays/red.png"] = encodedSolid(t, color.NRGBA{R: 255, A: 255})

	layer := t2mLayer()
	layer.Overlays = []domain.OverlayRef{{Key: "overlays/red.png"}}
	sess, err := fx.service.Open(context.Background(), input.SessionOptions{Layer: layer})
	if err != nil {
		t.Fatal(err)
	}
	want := color.RGBA{R: 255, A: 255}
	waitFor(t, "overlay frame", func() bool {
		f, ok := sess.Frame()
		return ok && f.Final && f.Image.RGBAAt(100, 50) == want
	})
}

func TestSessionCommitDropsSupersededFrame(t *testing.T) {
	fx := newMapFixture(t, nil, "", MapConfig{})
	sess, err := fx.service.Open(context.Background(), input.SessionOptions{Layer: t2mLayer()})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first full frame", fullFrameAt(sess, 1))
	before, _ := sess.Frame()

	updates, cancel := sess.Subscribe()
	defer cancel()

	// a newer request was issued after this pass finished
	stale := before.Token
	current := sess.renderer.Begin()

	sess.commit(render.Frame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), Token: stale, Final: true})
	if f, _ := sess.Frame(); f.Image != before.Image {
		t.Fatal("superseded frame replaced the stored frame")
	}
	select {
	case u := <-updates:
		t.Fatalf("superseded frame was published: %+v", u)
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	sess.commit(render.Frame{Image: img, Token: current, Final: true})
	if f, _ := sess.Frame(); f.Image != img {
		t.Error("current frame was not stored")
	}
}
