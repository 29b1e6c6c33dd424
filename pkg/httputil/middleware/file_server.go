package middleware

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Static serves the files below directory. With spaFallback, paths that
// match no file serve index.html so a single page app can route them.
//
// Example usage:
//
//	h, err := middleware.Static("./ui/dist", true)
//	router.Handle("GET /", h)
func Static(directory string, spaFallback bool) (http.Handler, error) {
	absDir, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New(directory + " is not a directory")
	}
	return StaticFS(os.DirFS(absDir), spaFallback), nil
}

// StaticFS serves fsys, e.g. an embed.FS sub tree.
func StaticFS(fsys fs.FS, spaFallback bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "."
		}
		if !fs.ValidPath(name) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		f, info, err := openFile(fsys, name)
		if err == nil && info.IsDir() {
			f.Close()
			f, info, err = openFile(fsys, path.Join(name, "index.html"))
			name = path.Join(name, "index.html")
		}
		if err != nil && spaFallback {
			name = "index.html"
			f, info, err = openFile(fsys, name)
		}
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		setContentType(w, name)
		if rs, ok := f.(io.ReadSeeker); ok {
			http.ServeContent(w, r, name, info.ModTime(), rs)
			return
		}
		b, err := io.ReadAll(f)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(b))
	})
}

// Uploads serves stored uploads from directory. Directory indexes are not
// listed and content types are never sniffed.
func Uploads(directory string) (http.Handler, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, err
	}
	files, err := Static(directory, false)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	}), nil
}

func openFile(fsys fs.FS, name string) (fs.File, fs.FileInfo, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// setContentType sets the Content-Type header based on the file extension.
func setContentType(w http.ResponseWriter, filePath string) {
	if ext := filepath.Ext(filePath); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
	}
}
