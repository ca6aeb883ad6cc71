package telegram

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// call is one request seen by the fake Bot API. tgbotapi sends every
// parameter as a form value; nested values arrive JSON-encoded.
type call struct {
	Method string
	Form   map[string]string
	File   string
}

// fakeAPI serves the Bot API for a single token. Methods not listed in
// replies answer with a message for send* methods and true otherwise.
type fakeAPI struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	calls   []call
	replies map[string]string
}

func newFakeAPI(t *testing.T, token string) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, replies: map[string]string{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, method := path.Split(r.URL.Path)
		if dir != "/bot"+token+"/" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
			return
		}
		c := call{Method: method, Form: map[string]string{}}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			for k, v := range r.MultipartForm.Value {
				c.Form[k] = v[0]
			}
			if fh := r.MultipartForm.File["audio"]; len(fh) > 0 {
				c.File = fh[0].Filename
			}
		} else {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			for k, v := range r.PostForm {
				c.Form[k] = v[0]
			}
		}
		f.mu.Lock()
		f.calls = append(f.calls, c)
		reply, ok := f.replies[method]
		f.mu.Unlock()
		if !ok {
			reply = `{"ok":true,"result":true}`
			if strings.HasPrefix(method, "send") {
				reply = messageReply(1)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) reply(method, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = body
}

func (f *fakeAPI) client(token string) *Client {
	return NewClient(f.srv.URL+"/", token, 5*time.Second)
}

func (f *fakeAPI) seen() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeAPI) last() call {
	f.t.Helper()
	c := f.seen()
	if len(c) == 0 {
		f.t.Fatalf("no API calls recorded")
	}
	return c[len(c)-1]
}

// num reads a form field as int64.
func num(t *testing.T, form map[string]string, key string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(form[key], 10, 64)
	if err != nil {
		t.Fatalf("field %q = %q, want number", key, form[key])
	}
	return v
}

func messageReply(id int) string {
	return fmt.Sprintf(`{"ok":true,"result":{"message_id":%d,"chat":{"id":1,"type":"private"}}}`, id)
}
