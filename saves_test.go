package main

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSavesApp(t *testing.T, blobURL string) *App {
	app := newTestApp(t)
	app.blob.APIURL = blobURL
	app.blob.WriteToken = "write-token"
	app.blob.ReadToken = "read-token"
	app.blob.setDefaults()
	return app
}

func multipartSave(t *testing.T, token, fileName string, data []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("token", token)
	mw.WriteField("fileName", fileName)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSaveUpload(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody []byte
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = ioutil.ReadAll(r.Body)
		fmt.Fprint(w, `{"url":"https://blob.example/x"}`)
	}))
	defer upstream.Close()

	r := initRouter(newSavesApp(t, upstream.URL))

	body, ct := multipartSave(t, "ABCDE", "save.bin.lz4", []byte("lz4-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/saves/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotPath != "/revc-saves/ABCDE/save.bin.lz4" {
		t.Fatalf("unexpected blob path: %q", gotPath)
	}
	if gotAuth != "Bearer write-token" {
		t.Fatalf("unexpected auth: %q", gotAuth)
	}
	if string(gotBody) != "lz4-bytes" {
		t.Fatalf("unexpected body: %q", gotBody)
	}
}

func TestSaveUploadSanitizesNames(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{}`)
	}))
	defer upstream.Close()

	r := initRouter(newSavesApp(t, upstream.URL))

	body, ct := multipartSave(t, "ab/../cd!", "../../etc/passwd", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/saves/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotPath != "/revc-saves/abcd/passwd" {
		t.Fatalf("expected traversal to be stripped, got %q", gotPath)
	}
}

func TestSaveUploadMissingFields(t *testing.T) {
	r := initRouter(newSavesApp(t, "http://127.0.0.1:1"))

	body, ct := multipartSave(t, "", "save.bin", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/saves/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSaveDownload(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/revc-saves/ABCDE/save.bin.lz4" {
			w.Write([]byte("lz4-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	r := initRouter(newSavesApp(t, upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/saves/download/ABCDE/save.bin.lz4", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "lz4-bytes" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/saves/download/ABCDE/missing.bin", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSavesNotConfigured(t *testing.T) {
	app := newTestApp(t)
	app.blob.WriteToken = ""
	app.blob.ReadToken = ""
	r := initRouter(app)

	body, ct := multipartSave(t, "ABCDE", "save.bin", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/saves/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/saves/download/ABCDE/save.bin", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", w.Code)
	}
}
