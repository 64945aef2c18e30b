package linker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644))
}

func TestKeywords(t *testing.T) {
	kw := Keywords("Hello World - A Very Long Title Indeed", []string{"part one", "", "  "})
	require.Len(t, kw, 2)
	assert.Equal(t, "HelloWorldAVeryLongT", kw[0])
	assert.Equal(t, "partone", kw[1])

	kw = Keywords("短标题", []string{"第一集_上半部分内容非常长的标题名称"})
	assert.Equal(t, []string{"短标题", "第一集上半部分内容非常长的标题"}, kw)

	assert.Empty(t, Keywords("", nil))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "UP", "Demo Video[1080P].mp4"), 10)
	writeFile(t, filepath.Join(root, "UP", "Demo Video.xml"), 10)
	writeFile(t, filepath.Join(root, "Other[720P].MKV"), 10)

	files, err := Scan(root, Keywords("Demo Video", nil))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Demo Video[1080P].mp4", files[0].Name)
	assert.Equal(t, "UP/Demo Video[1080P].mp4", files[0].RelPath)

	files, err = Scan(root, nil)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestScan_Cap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 15; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("clip%02d.mp4", i)), 1)
	}
	files, err := Scan(root, []string{"clip"})
	require.NoError(t, err)
	assert.Len(t, files, MaxFiles)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}

func fileInfoServer(t *testing.T, fail map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/fs/get", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req fsGetRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "secret", req.Password)

		w.Header().Set("Content-Type", "application/json")
		if code, ok := fail[filepath.Base(req.Path)]; ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": "boom"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"url": "https://files.example.com/d" + req.Path, "is_dir": false},
		})
	}))
}

func TestFileInfoClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fsGetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Path {
		case "/dir":
			_, _ = io.WriteString(w, `{"code":200,"data":{"is_dir":true}}`)
		case "/raw.mp4":
			_, _ = io.WriteString(w, `{"code":200,"data":{"raw_url":"https://raw.example.com/raw.mp4"}}`)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = io.WriteString(w, `{"code":200,"data":{"url":"https://x/`+strings.TrimPrefix(req.Path, "/")+`"}}`)
		}
	}))
	defer srv.Close()

	c := NewFileInfoClient(srv.URL+"/", "", time.Second)

	link, err := c.DirectLink(context.Background(), "/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://x/a.mp4", link)

	link, err = c.DirectLink(context.Background(), "/raw.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://raw.example.com/raw.mp4", link)

	_, err = c.DirectLink(context.Background(), "/dir")
	assert.ErrorIs(t, err, ErrNoLink)

	_, err = c.DirectLink(context.Background(), "/down")
	assert.ErrorIs(t, err, ErrNoLink)
}

// One of three matched files fails at the file-info API; the other two still
// get links, in scan order.
func TestResolve_PartialFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Demo", "[P1]Demo-a.mp4"), 5)
	writeFile(t, filepath.Join(root, "Demo", "[P2]Demo-b.mp4"), 5)
	writeFile(t, filepath.Join(root, "Demo", "[P3]Demo-c.mp4"), 5)

	srv := fileInfoServer(t, map[string]int{"[P2]Demo-b.mp4": 500})
	defer srv.Close()

	r := NewResolver(root, "/bilibili", NewFileInfoClient(srv.URL, "secret", time.Second), nil, nil, quietLogger())
	files := r.Resolve(context.Background(), "Demo", nil)

	require.Len(t, files, 2)
	assert.Equal(t, "[P1]Demo-a.mp4", files[0].Name)
	assert.Equal(t, "[P3]Demo-c.mp4", files[1].Name)
	assert.Equal(t, "/bilibili/Demo/[P1]Demo-a.mp4", files[0].RemotePath)
	assert.Equal(t, "https://files.example.com/d/bilibili/Demo/[P3]Demo-c.mp4", files[1].Link())
}

func TestResolve_SkipsEmptyFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Demo.mp4"), 0)
	writeFile(t, filepath.Join(root, "Demo.flv"), 3)

	srv := fileInfoServer(t, nil)
	defer srv.Close()

	r := NewResolver(root, "/bilibili", NewFileInfoClient(srv.URL, "secret", time.Second), nil, NoWait{}, quietLogger())
	files := r.Resolve(context.Background(), "Demo", nil)
	require.Len(t, files, 1)
	assert.Equal(t, "Demo.flv", files[0].Name)
}

type fakeShortener struct {
	calls atomic.Int32
	fail  string
}

func (f *fakeShortener) Shorten(_ context.Context, link string) (string, error) {
	f.calls.Add(1)
	if strings.Contains(link, f.fail) {
		return "", ErrShorten
	}
	return "https://s.example/" + filepath.Base(link), nil
}

func TestResolve_ShortenFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Demo-a.mp4"), 5)
	writeFile(t, filepath.Join(root, "Demo-b.mp4"), 5)

	srv := fileInfoServer(t, nil)
	defer srv.Close()

	short := &fakeShortener{fail: "Demo-b"}
	r := NewResolver(root, "/bilibili", NewFileInfoClient(srv.URL, "secret", time.Second), short, nil, quietLogger())
	files := r.Resolve(context.Background(), "Demo", nil)

	require.Len(t, files, 2)
	assert.EqualValues(t, 2, short.calls.Load())
	assert.Equal(t, "https://s.example/Demo-a.mp4", files[0].Link())
	assert.Equal(t, "https://files.example.com/d/bilibili/Demo-b.mp4", files[1].Link())
}

func TestHTTPShortener_PostHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "k123", r.Header.Get("X-Token"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://long.example/a", body["long_url"])
		_, _ = io.WriteString(w, `{"data":{"shortUrl":"https://s.example/a"}}`)
	}))
	defer srv.Close()

	s := NewHTTPShortener(config.ShortenerConfig{
		APIURL:     srv.URL,
		APIKey:     "k123",
		AuthMethod: "header",
		AuthHeader: "X-Token",
		Method:     "POST",
		DataKey:    "long_url",
	})
	got, err := s.Shorten(context.Background(), "https://long.example/a")
	require.NoError(t, err)
	assert.Equal(t, "https://s.example/a", got)
}

func TestHTTPShortener_GetQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "k123", r.URL.Query().Get("api_key"))
		assert.Equal(t, "https://long.example/a", r.URL.Query().Get("target"))
		_, _ = io.WriteString(w, `{"shorturl":"https://s.example/q"}`)
	}))
	defer srv.Close()

	s := NewHTTPShortener(config.ShortenerConfig{
		APIURL:     srv.URL,
		APIKey:     "k123",
		AuthMethod: "query",
		Method:     "GET",
		ParamsKey:  "target",
	})
	got, err := s.Shorten(context.Background(), "https://long.example/a")
	require.NoError(t, err)
	assert.Equal(t, "https://s.example/q", got)
}

func TestHTTPShortener_UnknownMethodIsGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "https://long.example/a", r.URL.Query().Get("url"))
		_, _ = io.WriteString(w, `{"short_url":"https://s.example/g"}`)
	}))
	defer srv.Close()

	for _, method := range []string{"", "PUT", "get"} {
		s := NewHTTPShortener(config.ShortenerConfig{
			APIURL:    srv.URL,
			Method:    method,
			ParamsKey: "url",
		})
		got, err := s.Shorten(context.Background(), "https://long.example/a")
		require.NoError(t, err, method)
		assert.Equal(t, "https://s.example/g", got)
	}
}

func TestHTTPShortener_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mode") == "status" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := NewHTTPShortener(config.ShortenerConfig{APIURL: srv.URL})
	_, err := s.Shorten(context.Background(), "https://long.example/a")
	assert.ErrorIs(t, err, ErrShorten)

	s = NewHTTPShortener(config.ShortenerConfig{APIURL: srv.URL + "?mode=status"})
	_, err = s.Shorten(context.Background(), "https://long.example/a")
	assert.ErrorIs(t, err, ErrShorten)

	_, err = s.Shorten(context.Background(), "ftp://long.example/a")
	assert.ErrorIs(t, err, ErrShorten)
}

func TestPollingStabilizer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp4"), 10)

	p := &PollingStabilizer{Initial: time.Millisecond, Interval: time.Millisecond, Polls: 5, Required: 2}
	assert.True(t, p.Wait(context.Background(), root))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Wait(ctx, root))
}

func TestSameSizes(t *testing.T) {
	assert.True(t, sameSizes(map[string]int64{"a": 1}, map[string]int64{"a": 1, "b": 2}))
	assert.False(t, sameSizes(map[string]int64{"a": 1}, map[string]int64{"a": 3}))
}
