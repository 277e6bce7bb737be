package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

type gzipResponseWriter struct {
	http.ResponseWriter
	gz       *gzip.Writer
	decided  bool
	compress bool
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if !w.decided {
		w.decided = true
		// Обработчик, который сжимает ответ сам (например promhttp), пропускаем как есть.
		w.compress = w.Header().Get("Content-Encoding") == "" &&
			code != http.StatusNoContent && code != http.StatusNotModified
		if w.compress {
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Del("Content-Length")
			w.Header().Add("Vary", "Accept-Encoding")
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.WriteHeader(http.StatusOK)
	}
	if !w.compress {
		return w.ResponseWriter.Write(b)
	}
	if w.gz == nil {
		w.gz = gzip.NewWriter(w.ResponseWriter)
	}
	return w.gz.Write(b)
}

func (w *gzipResponseWriter) close() error {
	if w.gz == nil {
		return nil
	}
	return w.gz.Close()
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.ReadCloser
}

func (r *gzipReadCloser) Close() error {
	if err := r.Reader.Close(); err != nil {
		return err
	}
	return r.body.Close()
}

// GzipMiddleware распаковывает тело запроса с Content-Encoding: gzip и сжимает ответ,
// если клиент его принимает.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			r.Body = &gzipReadCloser{Reader: gr, body: r.Body}
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		gw := &gzipResponseWriter{ResponseWriter: w}
		defer gw.close()

		next.ServeHTTP(gw, r)
	})
}
