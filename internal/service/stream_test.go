package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlink/internal/config"
	"streamlink/internal/logger"
	"streamlink/internal/repository/memory"
	"streamlink/internal/upstream"
)

// fakeUpstream serves one object and records the Range header of every GET.
type fakeUpstream struct {
	*httptest.Server
	mu          sync.Mutex
	ranges      []string
	content     string
	allowHead   bool
	ignoreRange bool
	status      int
}

func newFakeUpstream(t *testing.T, content string) *fakeUpstream {
	f := &fakeUpstream{content: content, allowHead: true}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && !f.allowHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		if r.Method == http.MethodGet {
			f.mu.Lock()
			f.ranges = append(f.ranges, r.Header.Get("Range"))
			f.mu.Unlock()
		}
		if f.ignoreRange {
			r.Header.Del("Range")
		}
		http.ServeContent(w, r, "", time.Time{}, strings.NewReader(f.content))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) lastRange() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ranges) == 0 {
		return "<none>"
	}
	return f.ranges[len(f.ranges)-1]
}

type streamFixture struct {
	links    *linkService
	stream   StreamService
	upstream *fakeUpstream
}

func newStreamFixture(t *testing.T, content string) *streamFixture {
	t.Helper()
	up := newFakeUpstream(t, content)
	store := memory.NewLinkMemory(0)
	links := newTestLinkService(store)
	links.newToken = randomToken

	client := upstream.NewClient(config.UpstreamConfig{})
	resolver, err := upstream.NewHTTPResolver(client, up.URL, "secret", "/file/bot{token}/{path}", time.Second, logger.Discard())
	require.NoError(t, err)

	return &streamFixture{
		links:    links,
		stream:   NewStreamService(links, resolver, client, 64, logger.Discard(), nil),
		upstream: up,
	}
}

func (f *streamFixture) register(t *testing.T, size *int64) string {
	t.Helper()
	reg, err := f.links.Register(context.Background(), RegisterInput{
		ObjectRef: "videos/file_1.mp4",
		MIME:      "video/mp4",
		Filename:  "clip.mp4",
		Size:      size,
	})
	require.NoError(t, err)
	return reg.Token
}

func readAll(t *testing.T, st *Stream) []byte {
	t.Helper()
	defer st.Body.Close()
	var buf bytes.Buffer
	_, err := io.Copy(&buf, st.Body)
	require.NoError(t, err)
	return buf.Bytes()
}

var object = strings.Repeat("0123456789", 100)

func TestStreamService_FullContent(t *testing.T) {
	f := newStreamFixture(t, object)
	token := f.register(t, ptr(int64(1000)))

	st, err := f.stream.Open(context.Background(), token, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, st.Status)
	assert.Equal(t, int64(1000), st.ContentLength)
	assert.Equal(t, "video/mp4", st.ContentType)
	assert.Equal(t, `inline; filename="clip.mp4"`, st.Disposition)
	assert.Empty(t, st.ContentRange)
	assert.Equal(t, object, string(readAll(t, st)))
	assert.Equal(t, "", f.upstream.lastRange())
}

func TestStreamService_PartialContent(t *testing.T) {
	f := newStreamFixture(t, object)
	token := f.register(t, ptr(int64(1000)))

	st, err := f.stream.Open(context.Background(), token, "bytes=0-99")
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, st.Status)
	assert.Equal(t, "bytes 0-99/1000", st.ContentRange)
	assert.Equal(t, int64(100), st.ContentLength)
	assert.Equal(t, object[:100], string(readAll(t, st)))
	assert.Equal(t, "bytes=0-99", f.upstream.lastRange())
}

func TestStreamService_SuffixRangeWithProbedSize(t *testing.T) {
	f := newStreamFixture(t, object)
	token := f.register(t, nil)

	st, err := f.stream.Open(context.Background(), token, "bytes=-100")
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, st.Status)
	assert.Equal(t, "bytes 900-999/1000", st.ContentRange)
	assert.Equal(t, object[900:], string(readAll(t, st)))
}

func TestStreamService_UnknownSize(t *testing.T) {
	f := newStreamFixture(t, object)
	f.upstream.allowHead = false
	token := f.register(t, nil)

	for _, rh := range []string{"", "bytes=0-99"} {
		st, err := f.stream.Open(context.Background(), token, rh)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, st.Status)
		assert.Equal(t, int64(-1), st.ContentLength)
		assert.Empty(t, st.ContentRange)
		assert.Equal(t, object, string(readAll(t, st)))
		assert.Equal(t, "", f.upstream.lastRange(), "no range is forwarded when the size is unknown")
	}
}

func TestStreamService_MalformedRangeFallsBack(t *testing.T) {
	f := newStreamFixture(t, object)
	token := f.register(t, ptr(int64(1000)))

	st, err := f.stream.Open(context.Background(), token, "bytes=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, st.Status)
	assert.Equal(t, int64(1000), st.ContentLength)
	assert.Len(t, readAll(t, st), 1000)
}

func TestStreamService_UnsatisfiableRange(t *testing.T) {
	for _, rh := range []string{"bytes=0-1000", "bytes=1000-", "bytes=500-100"} {
		t.Run(rh, func(t *testing.T) {
			f := newStreamFixture(t, object)
			token := f.register(t, ptr(int64(1000)))

			st, err := f.stream.Open(context.Background(), token, rh)
			assert.Nil(t, st)
			var rerr *RangeNotSatisfiableError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, int64(1000), rerr.Size)
			assert.Equal(t, "<none>", f.upstream.lastRange(), "nothing is fetched for an unsatisfiable range")
		})
	}
}

func TestStreamService_HeadSkipsBody(t *testing.T) {
	f := newStreamFixture(t, object)
	token := f.register(t, ptr(int64(1000)))

	st, err := f.stream.Head(context.Background(), token, "bytes=100-199")
	require.NoError(t, err)
	assert.Nil(t, st.Body)
	assert.Equal(t, http.StatusPartialContent, st.Status)
	assert.Equal(t, "bytes 100-199/1000", st.ContentRange)
	assert.Equal(t, int64(100), st.ContentLength)
	assert.Equal(t, "<none>", f.upstream.lastRange(), "HEAD never issues an upstream GET")

	_, err = f.stream.Head(context.Background(), token, "bytes=500-100")
	var rerr *RangeNotSatisfiableError
	assert.ErrorAs(t, err, &rerr)

	_, err = f.stream.Head(context.Background(), "unknown", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStreamService_UpstreamIgnoresRange(t *testing.T) {
	f := newStreamFixture(t, object)
	f.upstream.ignoreRange = true
	token := f.register(t, ptr(int64(1000)))

	st, err := f.stream.Open(context.Background(), token, "bytes=100-149")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, st.Status)
	assert.Equal(t, object[100:150], string(readAll(t, st)))
}

func TestStreamService_UpstreamRejected(t *testing.T) {
	f := newStreamFixture(t, object)
	f.upstream.status = http.StatusNotFound
	token := f.register(t, ptr(int64(1000)))

	_, err := f.stream.Open(context.Background(), token, "")
	var se *upstream.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.NotContains(t, err.Error(), "secret")
}

func TestStreamService_ShortUpstreamBody(t *testing.T) {
	f := newStreamFixture(t, object[:500])
	token := f.register(t, ptr(int64(1000)))

	st, err := f.stream.Open(context.Background(), token, "")
	require.NoError(t, err)
	defer st.Body.Close()

	_, err = io.ReadAll(st.Body)
	assert.ErrorIs(t, err, errShortBody)
}

func TestStreamService_TokenErrors(t *testing.T) {
	f := newStreamFixture(t, object)
	ctx := context.Background()

	_, err := f.stream.Open(ctx, "unknown", "")
	assert.ErrorIs(t, err, ErrNotFound)

	token := f.register(t, ptr(int64(1000)))
	f.links.now = func() time.Time { return fixedNow.Add(49 * time.Hour) }

	_, err = f.stream.Open(ctx, token, "")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.stream.Open(ctx, token, "")
	assert.ErrorIs(t, err, ErrNotFound, "an expired link is gone after the first observation")
}

func TestStreamService_InvalidReference(t *testing.T) {
	f := newStreamFixture(t, object)
	reg, err := f.links.Register(context.Background(), RegisterInput{ObjectRef: "../escape"})
	require.NoError(t, err)

	_, err = f.stream.Open(context.Background(), reg.Token, "")
	assert.ErrorIs(t, err, upstream.ErrInvalidReference)
}

func TestDisposition(t *testing.T) {
	assert.Equal(t, `inline; filename="a_b_.mp4"`, disposition("a\"b\\.mp4"))
	assert.Equal(t, `inline; filename="evil.mp4"`, disposition("evil\r\n.mp4"))
}
