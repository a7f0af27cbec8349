package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/chromakey/chroma"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ResultsDir = t.TempDir()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

// 左上角一块黑色主体，其余为品红
func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 255, G: 0, B: 255, A: 255}
			if x >= 10 && x < 40 && y >= 20 && y < 50 {
				c = color.NRGBA{A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func uploadBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, s *Server, img image.Image) removeResp {
	t.Helper()

	body, ct := uploadBody(t, "image", pngBytes(t, img))
	req := httptest.NewRequest(http.MethodPost, "/v1/remove", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp removeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRemoveAndFetch(t *testing.T) {
	s := newTestServer(t)

	resp := upload(t, s, testImage(200, 150))
	assert.Equal(t, "png", resp.Format)
	assert.Equal(t, 200, resp.Width)
	assert.Equal(t, 150, resp.Height)
	require.NotNil(t, resp.Foreground)
	assert.Equal(t, rect{X: 10, Y: 20, Width: 30, Height: 30}, *resp.Foreground)
	assert.Equal(t, 200*150-30*30, resp.Stats.Background)
	assert.Equal(t, 30*30, resp.Stats.Opaque)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/results/"+resp.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	got, err := png.Decode(rec.Body)
	require.NoError(t, err)
	out := chroma.ToNRGBA(got)
	assert.Equal(t, image.Rect(0, 0, 200, 150), out.Bounds())
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(15, 25).A)
	assert.Equal(t, color.NRGBA{R: 255, G: 0, B: 255, A: 0}, out.NRGBAAt(199, 0))
}

func TestFetchPreview(t *testing.T) {
	s := newTestServer(t)
	resp := upload(t, s, testImage(400, 200))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/results/"+resp.ID+"?max=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Bounds().Dx(), 100)
	assert.LessOrEqual(t, got.Bounds().Dy(), 50)

	for _, bad := range []string{"0", "-3", "abc"} {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/results/"+resp.ID+"?max="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "max=%s", bad)
	}
}

func TestRemove_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		field string
		data  []byte
	}{
		{name: "missing field", field: "file", data: []byte("x")},
		{name: "not an image", field: "image", data: []byte("definitely not a png")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := uploadBody(t, tt.field, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/v1/remove", body)
			req.Header.Set("Content-Type", ct)

			rec := do(s, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestResultNotFoundAndInvalid(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/results/"+ksuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/v1/results/not-a-ksuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	resp := upload(t, s, testImage(120, 120))

	rec := do(s, httptest.NewRequest(http.MethodDelete, "/v1/results/"+resp.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodDelete, "/v1/results/"+resp.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_BadPurgeSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResultsDir = t.TempDir()
	cfg.PurgeSpec = "not a schedule"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestStorePurge(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	img := testImage(10, 10)

	oldID, err := ksuid.NewRandomWithTime(now.Add(-2 * time.Hour))
	require.NoError(t, err)
	old, err := store.put(oldID, img)
	require.NoError(t, err)

	fresh, err := store.Put(img)
	require.NoError(t, err)

	n, err := store.Purge(now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Path(old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Path(fresh)
	assert.NoError(t, err)
}

func TestResizeWithinMax(t *testing.T) {
	small := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	assert.Same(t, small, resizeWithinMax(small, 100))

	wide := image.NewNRGBA(image.Rect(0, 0, 1000, 3))
	got := resizeWithinMax(wide, 100)
	assert.LessOrEqual(t, got.Bounds().Dx(), 100)
	assert.GreaterOrEqual(t, got.Bounds().Dy(), 1)
}

// hugeHeaderPNG 只有几十字节，但 IHDR 声明的宽高是 w×h
func hugeHeaderPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()

	data := pngBytes(t, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	require.Equal(t, "IHDR", string(data[12:16]))

	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestRemove_TooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResultsDir = t.TempDir()
	cfg.MaxUploadBytes = 4 << 10
	cfg.MaxPixels = 100 * 100
	s, err := New(cfg)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "declared dimensions", data: hugeHeaderPNG(t, 60000, 60000)},
		{name: "pixel count over limit", data: pngBytes(t, testImage(200, 150))},
		{name: "body over limit", data: bytes.Repeat([]byte{0xAB}, 8<<10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := uploadBody(t, "image", tt.data)
			req := httptest.NewRequest(http.MethodPost, "/v1/remove", body)
			req.Header.Set("Content-Type", ct)

			rec := do(s, req)
			assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
		})
	}

	// 限制以内照常处理
	resp := upload(t, s, testImage(100, 100))
	assert.Equal(t, 100, resp.Width)
}

func TestRemove_HugeHeaderRejectedByDefault(t *testing.T) {
	s := newTestServer(t)

	body, ct := uploadBody(t, "image", hugeHeaderPNG(t, 60000, 60000))
	req := httptest.NewRequest(http.MethodPost, "/v1/remove", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	entries, err := os.ReadDir(s.cfg.ResultsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
