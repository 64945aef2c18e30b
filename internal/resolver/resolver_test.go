package resolver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "full link", in: "看看这个 https://www.bilibili.com/video/BV1xx411c7mD?p=2 好看", want: "https://www.bilibili.com/video/BV1xx411c7mD?p=2"},
		{name: "short link", in: "【标题】 https://b23.tv/abc123", want: "https://b23.tv/abc123"},
		{name: "bare bvid", in: "下载 BV1xx411c7mD 谢谢", want: "BV1xx411c7mD"},
		{name: "verbatim", in: "  av170001  ", want: "av170001"},
		{name: "short link without scheme", in: "b23.tv/uKe83H7", want: "b23.tv/uKe83H7"},
		{name: "cjk only", in: "帮我下载一下", wantErr: ErrNoReference},
		{name: "empty", in: "   ", wantErr: ErrNoReference},
		{name: "too long", in: strings.Repeat("x", 100), wantErr: ErrNoReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractBVID(t *testing.T) {
	assert.Equal(t, "BV1xx411c7mD", ExtractBVID("https://www.bilibili.com/video/BV1xx411c7mD/"))
	assert.Empty(t, ExtractBVID("https://www.bilibili.com/bangumi/play/ep1"))
}

func TestResolveShortLink_Redirect(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Location", "https://www.bilibili.com/video/BV1xx411c7mD")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	r := New("test-agent", "https://www.bilibili.com/", quietLogger())
	r.shortHost = "127.0.0.1"

	got, err := r.ResolveShortLink(context.Background(), srv.URL+"/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD", got)
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "https://www.bilibili.com/", gotReferer)
}

func TestResolveShortLink_RelativeLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/video/BV1ab")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	r := New("ua", "ref", quietLogger())
	r.shortHost = "127.0.0.1"

	got, err := r.ResolveShortLink(context.Background(), srv.URL+"/abc")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/video/BV1ab", got)
}

func TestResolveShortLink_Unresolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New("ua", "ref", quietLogger())
	r.shortHost = "127.0.0.1"

	_, err := r.ResolveShortLink(context.Background(), srv.URL+"/abc")
	assert.ErrorIs(t, err, ErrShortLinkUnresolved)
}

func TestResolveShortLink_WithoutScheme(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://www.bilibili.com/video/BV1xx411c7mD")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	r := New("ua", "ref", quietLogger())
	assert.True(t, r.isShortLink("b23.tv/uKe83H7"))

	r.shortHost = "127.0.0.1"
	r.noRedirect.Transport = srv.Client().Transport
	r.follow.Transport = srv.Client().Transport

	got, err := r.ResolveShortLink(context.Background(), strings.TrimPrefix(srv.URL, "https://")+"/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD", got)
}

func TestResolveShortLink_FollowFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("ua", "ref", quietLogger())
	r.shortHost = "127.0.0.1"
	r.siteHost = "127.0.0.1"

	got, err := r.ResolveShortLink(context.Background(), srv.URL+"/abc")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/abc", got)
}

func TestResolveShortLink_FollowLeavesSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("ua", "ref", quietLogger())
	r.shortHost = "127.0.0.1"

	_, err := r.ResolveShortLink(context.Background(), srv.URL+"/abc?next=bilibili.com")
	assert.ErrorIs(t, err, ErrShortLinkUnresolved)
}

func TestOnSite(t *testing.T) {
	r := New("ua", "ref", quietLogger())
	assert.True(t, r.onSite("https://www.bilibili.com/video/BV1xx"))
	assert.True(t, r.onSite("https://bilibili.com/"))
	assert.True(t, r.onSite("https://m.BiliBili.com/video/BV1xx"))
	assert.False(t, r.onSite("https://evil.example/?bilibili.com"))
	assert.False(t, r.onSite("https://notbilibili.com/video"))
}

func TestResolveShortLink_NonShortUnchanged(t *testing.T) {
	r := New("ua", "ref", quietLogger())
	got, err := r.ResolveShortLink(context.Background(), "https://www.bilibili.com/video/BV1xx")
	require.NoError(t, err)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx", got)
}

func TestResolve(t *testing.T) {
	r := New("ua", "ref", quietLogger())

	ref, err := r.Resolve(context.Background(), "bili BV1xx411c7mD")
	require.NoError(t, err)
	assert.Equal(t, Reference{ID: "BV1xx411c7mD", URL: "BV1xx411c7mD"}, ref)
	assert.Equal(t, "BV1xx411c7mD", ref.Target())

	ref, err = r.Resolve(context.Background(), "https://www.bilibili.com/bangumi/play/ep1")
	require.NoError(t, err)
	assert.Empty(t, ref.ID)
	assert.Equal(t, "https://www.bilibili.com/bangumi/play/ep1", ref.Target())

	_, err = r.Resolve(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = r.Resolve(context.Background(), "你好")
	assert.ErrorIs(t, err, ErrNoReference)
}
