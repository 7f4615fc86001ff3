package utils_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatsapp-hub/internal/utils"
)

func TestNormalizeRemoteJID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5511999999999", "5511999999999@s.whatsapp.net"},
		{"(11) 99999-9999", "5511999999999@s.whatsapp.net"},
		{"5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"5511999999999:12@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"120363025246125486@g.us", "120363025246125486@g.us"},
	}
	for _, tc := range cases {
		got, err := utils.NormalizeRemoteJID(tc.in)
		if err != nil {
			t.Fatalf("NormalizeRemoteJID(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeRemoteJID(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}

	for _, bad := range []string{"", "   ", "abc"} {
		if _, err := utils.NormalizeRemoteJID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestJIDHelpers(t *testing.T) {
	if got := utils.PhoneFromJID("5511999999999:3@s.whatsapp.net"); got != "5511999999999" {
		t.Fatalf("unexpected phone %q", got)
	}
	if !utils.IsGroupJID("120363025246125486@g.us") {
		t.Fatalf("expected group jid")
	}
	if utils.IsGroupJID("5511999999999@s.whatsapp.net") {
		t.Fatalf("user jid reported as group")
	}
}

func TestRenderTemplate(t *testing.T) {
	out := utils.RenderTemplate("Olá {nome}, seu número é {telefone}. {nome}!", map[string]string{
		"nome":     "Ana",
		"telefone": "5511999999999",
	})
	want := "Olá Ana, seu número é 5511999999999. Ana!"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
	if out := utils.RenderTemplate("{desconhecida}", nil); out != "{desconhecida}" {
		t.Fatalf("unknown placeholders must be kept, got %q", out)
	}
}

func TestPaginate(t *testing.T) {
	cases := []struct {
		page, limit        int
		wantOffset, wantSz int
	}{
		{0, 0, 0, 20},
		{1, 10, 0, 10},
		{3, 10, 20, 10},
		{2, 500, 100, 100},
	}
	for _, tc := range cases {
		offset, size := utils.Paginate(tc.page, tc.limit, 20, 100)
		if offset != tc.wantOffset || size != tc.wantSz {
			t.Fatalf("Paginate(%d, %d): expected (%d, %d), got (%d, %d)", tc.page, tc.limit, tc.wantOffset, tc.wantSz, offset, size)
		}
	}
}

func TestNewIDIsPrefixedAndUnique(t *testing.T) {
	a, b := utils.NewID("ses_"), utils.NewID("ses_")
	if !strings.HasPrefix(a, "ses_") {
		t.Fatalf("missing prefix: %s", a)
	}
	if a == b {
		t.Fatalf("ids must be unique")
	}
}

func TestDetectMime(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if got := utils.DetectMime("", png); got != "image/png" {
		t.Fatalf("expected image/png, got %s", got)
	}
	if got := utils.DetectMime("application/pdf", png); got != "application/pdf" {
		t.Fatalf("declared mime must win, got %s", got)
	}
	if got := utils.GetExtensionFromMime("audio/ogg; codecs=opus"); got != "ogg" {
		t.Fatalf("expected ogg, got %s", got)
	}
}

func TestDownloadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("hello"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, contentType, err := utils.DownloadFromURL(context.Background(), srv.URL+"/small", 10)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(data) != "hello" || contentType != "text/plain" {
		t.Fatalf("unexpected download result %q %q", data, contentType)
	}

	if _, _, err := utils.DownloadFromURL(context.Background(), srv.URL+"/big", 10); !errors.Is(err, utils.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, _, err := utils.DownloadFromURL(context.Background(), srv.URL+"/missing", 0); err == nil {
		t.Fatalf("expected error for 404")
	}
}
