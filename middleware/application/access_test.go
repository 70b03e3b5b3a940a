package application

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/infra"
)

type presigningObjects struct {
	*infra.MemoryObjects
	lastKey  string
	lastOpts domain.PresignOptions
	err      error
}

func (p *presigningObjects) PresignGet(_ context.Context, key string, opts domain.PresignOptions) (string, error) {
	p.lastKey = key
	p.lastOpts = opts
	if p.err != nil {
		return "", p.err
	}
	return "https://s3.example.com/" + key + "?X-Amz-Signature=x", nil
}

func newTestAccess(t *testing.T, objects domain.ObjectStore) *AssetAccess {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	assets := infra.NewMemoryAssets(domain.Asset{
		ID:               "asset-1",
		OwnerPrincipalID: "u1",
		StorageKey:       "u1/asset-1.png",
		ContentType:      "image/png",
		Filename:         "foto.png",
	})
	return &AssetAccess{
		Assets:  assets,
		Objects: objects,
		URLs:    newTestAuthority(t, "s3cret", clock),
		Logger:  discardLogger(),
	}
}

func TestAssetAccess_OwnerAndAdminCanSign(t *testing.T) {
	s := newTestAccess(t, infra.NewMemoryObjects())
	ctx := context.Background()

	for _, p := range []domain.Principal{{ID: "u1"}, {ID: "root", Admin: true}} {
		signed, err := s.SignForPrincipal(ctx, p, SignRequest{ResourceID: "asset-1"})
		if err != nil {
			t.Fatalf("principal %s: expected signed url, got %v", p.ID, err)
		}
		if signed.URL == "" || signed.DirectURL != "" {
			t.Fatalf("principal %s: unexpected result %+v", p.ID, signed)
		}
	}
}

func TestAssetAccess_DeniesOthers(t *testing.T) {
	s := newTestAccess(t, infra.NewMemoryObjects())
	ctx := context.Background()

	if _, err := s.SignForPrincipal(ctx, domain.Principal{ID: "u2"}, SignRequest{ResourceID: "asset-1"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := s.SignForPrincipal(ctx, domain.Principal{}, SignRequest{ResourceID: "asset-1"}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := s.SignForPrincipal(ctx, domain.Principal{ID: "u1"}, SignRequest{ResourceID: "nope"}); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.SignForPrincipal(ctx, domain.Principal{ID: "u1"}, SignRequest{ResourceID: "asset-1", Mode: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAssetAccess_DirectURLWhenPresignerAvailable(t *testing.T) {
	objects := &presigningObjects{MemoryObjects: infra.NewMemoryObjects()}
	s := newTestAccess(t, objects)

	signed, err := s.SignForPrincipal(context.Background(), domain.Principal{ID: "u1"}, SignRequest{
		ResourceID: "asset-1",
		Mode:       domain.DisplayAttachment,
		TTL:        2 * time.Minute,
		Direct:     true,
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(signed.DirectURL, "https://s3.example.com/u1/asset-1.png") {
		t.Fatalf("unexpected direct url %q", signed.DirectURL)
	}
	if objects.lastOpts.TTL != 2*time.Minute {
		t.Fatalf("expected presign ttl to follow link ttl, got %s", objects.lastOpts.TTL)
	}
	if objects.lastOpts.ContentDisposition != `attachment; filename=foto.png` {
		t.Fatalf("unexpected disposition %q", objects.lastOpts.ContentDisposition)
	}
}

func TestAssetAccess_PresignFailureKeepsSignedURL(t *testing.T) {
	objects := &presigningObjects{MemoryObjects: infra.NewMemoryObjects(), err: errors.New("s3 down")}
	s := newTestAccess(t, objects)

	signed, err := s.SignForPrincipal(context.Background(), domain.Principal{ID: "u1"}, SignRequest{ResourceID: "asset-1", Direct: true})
	if err != nil {
		t.Fatalf("expected sign to succeed, got %v", err)
	}
	if signed.URL == "" || signed.DirectURL != "" {
		t.Fatalf("unexpected result %+v", signed)
	}
}

func TestAssetAccess_OpenStreamsObject(t *testing.T) {
	objects := infra.NewMemoryObjects()
	objects.Put("u1/asset-1.png", []byte("png-bytes"), "image/png")
	s := newTestAccess(t, objects)
	ctx := context.Background()

	asset, err := s.Authorize(ctx, domain.Principal{ID: "u1"}, "asset-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	obj, err := s.Open(ctx, asset)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer obj.Body.Close()
	b, _ := io.ReadAll(obj.Body)
	if string(b) != "png-bytes" {
		t.Fatalf("unexpected body %q", b)
	}
}

func TestContentDisposition(t *testing.T) {
	cases := []struct {
		mode     domain.DisplayMode
		filename string
		want     string
	}{
		{domain.DisplayInline, "", "inline"},
		{domain.DisplayAttachment, "a.png", "attachment; filename=a.png"},
		{domain.DisplayAttachment, "../../etc/passwd", "attachment; filename=passwd"},
		{domain.DisplayAttachment, "my file.png", `attachment; filename="my file.png"`},
		{domain.DisplayInline, "a\r\nb.png", "inline; filename=ab.png"},
		{"bogus", "a.png", "inline; filename=a.png"},
	}
	for _, c := range cases {
		if got := ContentDisposition(c.mode, c.filename); got != c.want {
			t.Fatalf("ContentDisposition(%q, %q): expected %q, got %q", c.mode, c.filename, c.want, got)
		}
	}
}
