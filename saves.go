package main

import (
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi"
)

// blobConfig represents the save-file blob relay config structure.
// Credentials come from the environment, like the store families:
// BLOB_READ_WRITE_TOKEN for writes, with BLOB_READ_ONLY_TOKEN as a
// read-only fallback.
type blobConfig struct {
	APIURL        string        `koanf:"api_url"`
	Prefix        string        `koanf:"prefix"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxUploadSize int64         `koanf:"max_upload_size"`

	ReadToken  string `koanf:"-"`
	WriteToken string `koanf:"-"`
}

func (c *blobConfig) setDefaults() {
	if c.APIURL == "" {
		c.APIURL = "https://blob.vercel-storage.com"
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Prefix == "" {
		c.Prefix = "revc-saves"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 32 << 20
	}
	if c.WriteToken == "" {
		c.WriteToken = envFirst("BLOB_READ_WRITE_TOKEN")
	}
	if c.ReadToken == "" {
		c.ReadToken = envFirst("BLOB_READ_ONLY_TOKEN", "BLOB_READ_WRITE_TOKEN")
	}
}

var tokenSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeSaveToken clamps a save token to a safe charset. Tokens are
// usually 5 chars but longer ones are accepted.
func sanitizeSaveToken(token string) string {
	token = tokenSanitizer.ReplaceAllString(strings.TrimSpace(token), "")
	if len(token) > 64 {
		token = token[:64]
	}
	return token
}

// sanitizeFilename strips any path components to prevent traversal.
// The client sends the name URL-encoded.
func sanitizeFilename(name string) string {
	raw := strings.TrimSpace(name)
	if u, err := url.QueryUnescape(raw); err == nil {
		raw = u
	}
	raw = path.Base(raw)
	if raw == "" || raw == "." || raw == "/" {
		return "save.bin"
	}
	if len(raw) > 128 {
		raw = raw[:128]
	}
	return raw
}

// blobObjectPath namespaces objects to this project to avoid collisions.
func (a *App) blobObjectPath(token, fileName string) string {
	safeToken := sanitizeSaveToken(token)
	if safeToken == "" {
		safeToken = "anon"
	}
	return a.blob.Prefix + "/" + safeToken + "/" + sanitizeFilename(fileName)
}

func (a *App) blobRequest(method, pathname, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, a.blob.APIURL+"/"+strings.TrimLeft(pathname, "/"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	// Saves are LZ4-compressed bytes.
	req.Header.Set("Content-Type", "application/octet-stream")
	return req, nil
}

func respondBlobNotConfigured(w http.ResponseWriter) {
	respondJSON(w, http.StatusNotImplemented, respError{
		Error: "blob storage not configured",
		Hint:  "Set BLOB_READ_WRITE_TOKEN (or BLOB_READ_ONLY_TOKEN for downloads) in the environment.",
	})
}

// handleSaveUpload relays a multipart save-file upload to blob storage.
func handleSaveUpload(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	if app.blob.WriteToken == "" {
		respondBlobNotConfigured(w)
		return
	}

	if err := r.ParseMultipartForm(app.blob.MaxUploadSize); err != nil {
		respondJSON(w, http.StatusBadRequest, respError{Error: "expected multipart/form-data"})
		return
	}

	var (
		saveToken = r.FormValue("token")
		fileName  = r.FormValue("fileName")
	)
	file, _, err := r.FormFile("file")
	if saveToken == "" || fileName == "" || err != nil {
		respondJSON(w, http.StatusBadRequest, respError{Error: "missing fields"})
		return
	}
	defer file.Close()

	raw, err := ioutil.ReadAll(file)
	if err != nil || len(raw) == 0 {
		respondJSON(w, http.StatusBadRequest, respError{Error: "empty file"})
		return
	}

	req, err := app.blobRequest(http.MethodPut, app.blobObjectPath(saveToken, fileName), app.blob.WriteToken, bytes.NewReader(raw))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, respError{Error: "error building upstream request"})
		return
	}

	client := &http.Client{Timeout: app.blob.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		app.logger.Printf("error uploading save %q: %v", fileName, err)
		respondJSON(w, http.StatusBadGateway, respError{Error: "blob upload error"})
		return
	}
	defer resp.Body.Close()
	io.Copy(ioutil.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respondJSON(w, http.StatusBadGateway, respError{Error: "blob upload failed"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSaveDownload streams a save file back from blob storage.
func handleSaveDownload(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	if app.blob.ReadToken == "" {
		respondBlobNotConfigured(w)
		return
	}

	var (
		saveToken = chi.URLParam(r, "token")
		fileName  = chi.URLParam(r, "*")
	)
	if saveToken == "" || fileName == "" {
		respondJSON(w, http.StatusBadRequest, respError{Error: "invalid download path"})
		return
	}

	req, err := app.blobRequest(http.MethodGet, app.blobObjectPath(saveToken, fileName), app.blob.ReadToken, nil)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, respError{Error: "error building upstream request"})
		return
	}

	client := &http.Client{Timeout: app.blob.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		app.logger.Printf("error downloading save %q: %v", fileName, err)
		respondJSON(w, http.StatusBadGateway, respError{Error: "blob upstream error"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		respondJSON(w, http.StatusNotFound, respError{Error: "file not found"})
		return
	}
	if resp.StatusCode != http.StatusOK {
		respondJSON(w, http.StatusBadGateway, respError{Error: "blob upstream error"})
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyBuffer(w, resp.Body, make([]byte, 64*1024)); err != nil {
		app.logger.Printf("error streaming save %q: %v", fileName, err)
	}
}

// handleTokenGet is the stub the save-file client calls to validate a
// token; every token is accepted as premium.
func handleTokenGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	respondJSON(w, http.StatusOK, struct {
		Token   string `json:"token"`
		Premium bool   `json:"premium"`
		Email   string `json:"email"`
	}{Token: id, Premium: true, Email: "blob@user"})
}
