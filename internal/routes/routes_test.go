package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templui/kickstart/internal/app"
	"github.com/templui/kickstart/internal/config"
	"github.com/templui/kickstart/internal/fatimg"
	"github.com/templui/kickstart/internal/isoeditor"
	"github.com/templui/kickstart/internal/isoeditor/isotest"
	"github.com/templui/kickstart/internal/model"
	"github.com/templui/kickstart/internal/service"
)

const (
	testToken = "0123456789abcdef0123456789abcdef"
	appURL    = "http://ks.example.test"
)

const esx01Body = `{
	"hostname": "esx01",
	"rootpw": "XYZ",
	"disk": "mpx.vmhba0",
	"ip": "10.0.0.5",
	"netmask": "255.255.255.0",
	"gateway": "10.0.0.1",
	"nameserver": ["8.8.8.8", "8.8.4.4"],
	"allowed_ip": "10.0.0.9"
}`

type testServer struct {
	app     *app.App
	handler http.Handler
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, config.WriteTokens(filepath.Join(dir, "tokens.yaml"), []model.APIToken{
		{Token: testToken, Label: "test"},
	}))

	cfg := &config.Config{
		AppEnv:            "development",
		AppURL:            appURL + "/",
		DBDriver:          "sqlite",
		DBConnection:      filepath.Join(dir, "kickstart.db"),
		DataPath:          dir,
		FloppyPath:        filepath.Join(dir, "floppy"),
		ISOPath:           filepath.Join(dir, "iso"),
		TokensFile:        filepath.Join(dir, "tokens.yaml"),
		ISOMaxUploadBytes: 1 << 20,
		ReapInterval:      time.Minute,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		StorageDriver:     "local",
		MetricsEnabled:    true,
	}
	for _, m := range mutate {
		m(cfg)
	}

	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &testServer{app: a, handler: SetupRoutes(a)}
}

func (s *testServer) do(req *http.Request, remote string) *httptest.ResponseRecorder {
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func createRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

type createResponse struct {
	ImageFile string    `json:"image_file"`
	URL       string    `json:"url"`
	AllowedIP string    `json:"allowed_ip"`
	ExpiresAt time.Time `json:"expires_at"`
}

func TestKickstart_ESX01Scenario(t *testing.T) {
	s := newTestServer(t)
	before := time.Now()

	rec := s.do(createRequest(esx01Body), "192.0.2.1:5000")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^[A-Za-z0-9]{8}\.img$`, resp.ImageFile)
	assert.Equal(t, appURL+"/ks/"+resp.ImageFile, resp.URL)
	assert.Equal(t, "10.0.0.9", resp.AllowedIP)
	assert.WithinDuration(t, before.Add(60*time.Minute), resp.ExpiresAt, 5*time.Second)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/ks/"+resp.ImageFile, nil), "10.0.0.9:1234")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, fatimg.ImageSize, rec.Body.Len())

	ks, err := fatimg.ReadFile(rec.Body.Bytes(), "ks.cfg")
	require.NoError(t, err)
	want := "vmaccepteula\n" +
		"rootpw --iscrypted XYZ\n" +
		"install --disk=mpx.vmhba0\n" +
		"network --bootproto=static --device=vmnic0 --ip=10.0.0.5 --gateway=10.0.0.1 --nameserver=8.8.8.8,8.8.4.4 --netmask=255.255.255.0 --hostname=esx01 --addvmportgroup=1\n" +
		"reboot\n"
	assert.Equal(t, want, string(ks))

	for _, remote := range []string{"10.0.0.8:1234", "192.0.2.1:5000", "[::1]:80"} {
		req := httptest.NewRequest(http.MethodGet, "/ks/"+resp.ImageFile, nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.9")
		rec = s.do(req, remote)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, remote)
	}
}

func TestKickstart_CreateRequiresToken(t *testing.T) {
	s := newTestServer(t)

	for _, auth := range []string{"", "Bearer wrong-token"} {
		req := createRequest(esx01Body)
		req.Header.Del("Authorization")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := s.do(req, "10.0.0.9:1")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	var count int
	require.NoError(t, s.app.DB.Get(&count, "SELECT COUNT(*) FROM artifacts"))
	assert.Zero(t, count)
}

func TestKickstart_CreateValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(createRequest(`{"hostname":"esx01","ip":"999.1.1.1"}`), "10.0.0.9:1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation failed", resp.Error)
	assert.Contains(t, resp.Fields, "rootpw")
	assert.Contains(t, resp.Fields, "allowed_ip")

	for _, vlan := range []string{"0", "5.0", "1e3"} {
		body := strings.Replace(esx01Body, `"hostname"`, `"vlanid": `+vlan+`, "hostname"`, 1)
		rec = s.do(createRequest(body), "10.0.0.9:1")
		require.Equal(t, http.StatusBadRequest, rec.Code, vlan)
		resp.Fields = nil
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Fields, 1, vlan)
		assert.Contains(t, resp.Fields, "vlanid", vlan)
	}

	req := createRequest(esx01Body)
	req.Header.Set("Content-Type", "text/plain")
	rec = s.do(req, "10.0.0.9:1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"request must be JSON"}`, rec.Body.String())
}

func TestKickstart_GetUnknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/ks/nothere0.img", nil), "10.0.0.9:1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"file not found"}`, rec.Body.String())
}

func TestRateLimitOnProtectedRoutes(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.RateLimitRequests = 2 })

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, s.do(createRequest(`{}`), "10.0.0.7:1").Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)

	// Public routes are not limited.
	for range 3 {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/esxi", nil), "10.0.0.7:1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

const bootCfg = "bootstate=0\ntitle=Loading ESXi installer\nkernelopt=runweasel cdromBoot\n"

func esxiISO() []byte {
	return isotest.Build(map[string][]byte{
		service.BIOSBootConfig: []byte(bootCfg),
		service.EFIBootConfig:  []byte(bootCfg),
		"/B.B00;1":             bytes.Repeat([]byte{0x42}, 5000),
	}, isotest.Options{Joliet: true})
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/esxi", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestESXi_UploadListGet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/esxi", nil), "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"images":[]}`, rec.Body.String())

	iso := esxiISO()
	rec = s.do(uploadRequest(t, "file", "esxi-8.iso", iso), "10.0.0.1:1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/esxi", nil), "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"images":["`+appURL+`/esxi/esxi-8.iso"]}`, rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/esxi/esxi-8.iso", nil), "203.0.113.5:1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Body.Bytes(), len(iso))

	path := filepath.Join(s.app.Cfg.ISOPath, "esxi-8.iso")
	for _, p := range []string{service.BIOSBootConfig, service.EFIBootConfig} {
		cfg, err := isoeditor.ReadFile(path, p)
		require.NoError(t, err)
		assert.Contains(t, string(cfg), "kernelopt=runweasel ks=usb\n")
	}

	req := httptest.NewRequest(http.MethodGet, "/esxi/esxi-8.iso", nil)
	req.Header.Set("Range", "bytes=32769-32773")
	rec = s.do(req, "203.0.113.5:1")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "CD001", rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/esxi/missing.iso", nil), "203.0.113.5:1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestESXi_UploadRejections(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.ISOMaxUploadBytes = 128 << 10 })
	iso := esxiISO()

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"no token", func() *http.Request {
			r := uploadRequest(t, "file", "esxi.iso", iso)
			r.Header.Del("Authorization")
			return r
		}, http.StatusUnauthorized},
		{"not multipart", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/esxi", bytes.NewReader(iso))
			r.Header.Set("Authorization", "Bearer "+testToken)
			return r
		}, http.StatusBadRequest},
		{"missing file field", func() *http.Request { return uploadRequest(t, "upload", "esxi.iso", iso) }, http.StatusBadRequest},
		{"wrong extension", func() *http.Request { return uploadRequest(t, "file", "esxi.img", iso) }, http.StatusBadRequest},
		{"not an iso", func() *http.Request { return uploadRequest(t, "file", "esxi.iso", make([]byte, 40000)) }, http.StatusBadRequest},
		{"no boot config", func() *http.Request {
			plain := isotest.Build(map[string][]byte{"/README;1": []byte("x")}, isotest.Options{})
			return uploadRequest(t, "file", "plain.iso", plain)
		}, http.StatusBadRequest},
		{"too large", func() *http.Request {
			big := append(bytes.Clone(iso), make([]byte, 256<<10)...)
			return uploadRequest(t, "file", "big.iso", big)
		}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.req(), "10.0.0.1:1")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	images, err := s.app.ImageService.List()
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.do(createRequest(esx01Body), "10.0.0.1:1")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kickstart_artifacts_created_total{result="ok"} 1`)
	assert.Contains(t, string(body), `kickstart_http_request_duration_seconds`)
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.MetricsEnabled = false })

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), "10.0.0.1:1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
