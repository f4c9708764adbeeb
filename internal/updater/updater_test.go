package updater

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"v1.2.3", "1.2.3"},
		{"1.2.3", "1.2.3"},
		{"", ""},
		{"vv1.0.0", "v1.0.0"}, // only strips one leading v
	}
	for _, tt := range tests {
		if got := normalizeVersion(tt.input); got != tt.want {
			t.Errorf("normalizeVersion(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		name    string
		current string
		latest  string
		want    bool
	}{
		{"newer patch", "0.2.0", "0.2.1", true},
		{"newer minor", "0.2.0", "0.3.0", true},
		{"newer major", "0.2.0", "1.0.0", true},
		{"same version", "0.2.0", "0.2.0", false},
		{"older version", "0.3.0", "0.2.0", false},
		{"empty latest", "0.2.0", "", false},
		{"dev current", "dev", "0.2.0", false},
		{"two part version", "0.2", "0.3.0", true},
		{"minor jump", "0.9.0", "0.10.0", true},
		{"prerelease suffix", "1.0.0", "1.0.1rc1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNewer(tt.current, tt.latest); got != tt.want {
				t.Errorf("isNewer(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestBuildAssetName(t *testing.T) {
	wantExt := "tar.gz"
	if runtime.GOOS == "windows" {
		wantExt = "zip"
	}
	want := "cortexhub_0.3.0_" + runtime.GOOS + "_" + runtime.GOARCH + "." + wantExt
	if got := buildAssetName("0.3.0"); got != want {
		t.Errorf("buildAssetName = %q, want %q", got, want)
	}
}

func newReleaseServer(t *testing.T, release ReleaseInfo, statusCode int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(statusCode)
		if statusCode == http.StatusOK {
			if err := json.NewEncoder(w).Encode(release); err != nil {
				t.Errorf("encoding test response: %v", err)
			}
		}
	}))
	t.Cleanup(ts.Close)

	origEndpoint, origClient := releaseEndpoint, httpClient
	releaseEndpoint = ts.URL
	httpClient = ts.Client()
	t.Cleanup(func() {
		releaseEndpoint = origEndpoint
		httpClient = origClient
	})
	return ts
}

func TestCheckVersionUpdateAvailable(t *testing.T) {
	newReleaseServer(t, ReleaseInfo{
		TagName: "v0.3.0",
		HTMLURL: "https://github.com/cortexhub/cortexhub/releases/tag/v0.3.0",
	}, http.StatusOK)

	result := CheckVersion("v0.2.0")
	if !result.UpdateAvailable {
		t.Error("expected UpdateAvailable")
	}
	if result.LatestVersion != "0.3.0" || result.CurrentVersion != "0.2.0" {
		t.Errorf("versions = %q -> %q", result.CurrentVersion, result.LatestVersion)
	}
	if result.ReleaseURL == "" {
		t.Error("ReleaseURL empty")
	}
}

func TestCheckVersionAlreadyLatest(t *testing.T) {
	newReleaseServer(t, ReleaseInfo{TagName: "v0.2.0"}, http.StatusOK)
	if CheckVersion("v0.2.0").UpdateAvailable {
		t.Error("expected no update at latest version")
	}
}

func TestCheckVersionNetworkError(t *testing.T) {
	ts := newReleaseServer(t, ReleaseInfo{}, http.StatusOK)
	ts.Close()

	result := CheckVersion("v0.2.0")
	if result.UpdateAvailable {
		t.Error("expected no update on network error")
	}
	if result.CurrentVersion != "0.2.0" {
		t.Errorf("CurrentVersion = %q", result.CurrentVersion)
	}
}

func TestCheckVersionAPIError(t *testing.T) {
	newReleaseServer(t, ReleaseInfo{}, http.StatusForbidden)
	if CheckVersion("v0.2.0").UpdateAvailable {
		t.Error("expected no update on API error")
	}
}

func TestCheckVersionDevBuild(t *testing.T) {
	newReleaseServer(t, ReleaseInfo{TagName: "v0.3.0"}, http.StatusOK)
	if CheckVersion("dev").UpdateAvailable {
		t.Error("dev builds must never report updates")
	}
}

func makeTarGz(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(content))}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("tar body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestSelfUpdateAlreadyLatest(t *testing.T) {
	newReleaseServer(t, ReleaseInfo{TagName: "v0.2.0"}, http.StatusOK)
	if err := SelfUpdate("v0.2.0"); err == nil {
		t.Fatal("expected error when already at latest version")
	}
}

func TestSelfUpdateNoMatchingAsset(t *testing.T) {
	newReleaseServer(t, ReleaseInfo{
		TagName: "v0.3.0",
		Assets: []Asset{
			{Name: "cortexhub_0.3.0_solaris_sparc.tar.gz", BrowserDownloadURL: "https://example.com/nope"},
		},
	}, http.StatusOK)
	if err := SelfUpdate("v0.2.0"); err == nil {
		t.Fatal("expected error when no matching asset exists")
	}
}

func TestExtractBinary(t *testing.T) {
	content := []byte("#!/bin/sh\necho updated\n")
	archive := makeTarGz(t, "cortexhub", content)

	data, err := extractBinary(bytes.NewReader(archive), "cortexhub_0.3.0_linux_amd64.tar.gz")
	if err != nil {
		t.Fatalf("extractBinary: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("extracted = %q, want %q", data, content)
	}

	if _, err := extractBinary(bytes.NewReader([]byte("fake")), "cortexhub_0.3.0_windows_amd64.zip"); err == nil {
		t.Fatal("zip archives should be rejected")
	}
}

func TestExtractFromTarGzErrors(t *testing.T) {
	wrongName := makeTarGz(t, "not-the-binary", []byte("hello"))
	if _, err := extractFromTarGz(bytes.NewReader(wrongName)); err == nil {
		t.Error("expected error when binary missing from archive")
	}
	if _, err := extractFromTarGz(bytes.NewReader([]byte("not gzip"))); err == nil {
		t.Error("expected error on invalid gzip data")
	}
}
