// Package fileserver streams cached segment files with HLS-friendly headers.
package fileserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	shortCacheControl = "public, max-age=3600"
	longCacheControl  = "public, max-age=86400"
)

var ErrNotServable = errors.New("file not servable")

var extensionTypes = map[string]string{
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
}

// ContentType sniffs the file and falls back to its extension when the
// content is not recognised.
func ContentType(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil && !generic(mt) {
		return mt.String()
	}
	return TypeByExtension(path)
}

func generic(mt *mimetype.MIME) bool {
	return mt.Is("application/octet-stream") || mt.Is("text/plain")
}

func TypeByExtension(path string) string {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// CacheControl keeps playlists and init segments short-lived so players pick
// up changes; media segments are immutable.
func CacheControl(fileName string) string {
	name := strings.ToLower(fileName)
	if strings.HasPrefix(name, "init.") || strings.HasSuffix(name, ".m3u8") {
		return shortCacheControl
	}
	return longCacheControl
}

// Serve writes path to w. It returns ErrNotServable before writing anything
// if the file cannot be opened.
func Serve(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotServable, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotServable, path)
	}

	name := filepath.Base(path)
	h := w.Header()
	h.Set("Content-Type", ContentType(path))
	h.Set("Cache-Control", CacheControl(name))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.Copy(w, f)
	return err
}
