package main

import (
	"bytes"
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"html/template"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"
)

// mock 模拟远端登录页与桌面列表，用于本地联调：
//
//	site.loginURL: http://localhost:8080/#/login
//	solver.endpoint: http://localhost:8080/mock/ocr
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	challenge := flag.Bool("challenge", true, "require the image challenge after the first submit")
	flag.Parse()

	st := &state{challenge: *challenge}
	st.rotate()

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = pageTmpl.Execute(w, map[string]any{"Challenge": st.challenge})
	})
	mux.HandleFunc("/mock/captcha.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(captchaImage())
	})
	mux.HandleFunc("/mock/verify", func(w http.ResponseWriter, r *http.Request) {
		ok := r.URL.Query().Get("code") == st.current()
		if !ok {
			st.rotate()
		}
		writeJSON(w, map[string]any{"ok": ok})
	})
	mux.HandleFunc("/mock/ocr", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if img, _ := body["image"].(string); img == "" {
			writeJSON(w, map[string]any{"code": 1, "msg": "image is required"})
			return
		}
		writeJSON(w, map[string]any{"code": 0, "data": st.current()})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s (challenge=%t)", *addr, *challenge)
	log.Fatal(srv.ListenAndServe())
}

type state struct {
	challenge bool

	mu   sync.Mutex
	code string
}

func (s *state) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *state) rotate() {
	s.mu.Lock()
	s.code = randDigits(4)
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func captchaImage() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 80, 30))
	raw := make([]byte, 80*30)
	_, _ = crand.Read(raw)
	for y := 0; y < 30; y++ {
		for x := 0; x < 80; x++ {
			v := raw[y*80+x]
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func randDigits(n int) string {
	const digits = "0123456789"
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = digits[int(raw[i])%len(digits)]
	}
	return string(out)
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>mock desktop</title></head>
<body>
<div id="login" style="display:none">
  <input class="account" placeholder="account">
  <input class="password" type="password" placeholder="password">
  <div id="challenge" style="display:none">
    <input class="code" placeholder="code">
    <img class="code-img" src="/mock/captcha.png">
  </div>
  <button class="btn-submit">登录</button>
</div>
<div id="list" style="display:none">
  <div class="desktop-main-entry"><span class="desktop-main-entry-text">进入</span></div>
</div>
<div id="desktop" style="display:none">connected</div>
<script>
const needChallenge = {{.Challenge}};
let challengeShown = false;

function render() {
  const h = location.hash;
  document.getElementById('login').style.display = h.startsWith('#/login') ? '' : 'none';
  document.getElementById('list').style.display = h.startsWith('#/desktop-list') ? '' : 'none';
  document.getElementById('desktop').style.display = h.startsWith('#/desktop?id=') ? '' : 'none';
}

document.querySelector('.btn-submit').addEventListener('click', async () => {
  if (!document.querySelector('.account').value || !document.querySelector('.password').value) {
    return;
  }
  if (!needChallenge) {
    location.hash = '#/desktop-list';
    return;
  }
  if (!challengeShown) {
    challengeShown = true;
    document.getElementById('challenge').style.display = '';
    return;
  }
  const code = document.querySelector('.code').value;
  const resp = await fetch('/mock/verify?code=' + encodeURIComponent(code));
  const body = await resp.json();
  if (body.ok) {
    location.hash = '#/desktop-list';
    return;
  }
  document.querySelector('.code').value = '';
  document.querySelector('.code-img').src = '/mock/captcha.png?t=' + Date.now();
});

document.querySelector('.desktop-main-entry-text').addEventListener('click', () => {
  location.hash = '#/desktop?id=1';
});

window.addEventListener('hashchange', render);
if (!location.hash) location.hash = '#/login';
render();
</script>
</body>
</html>
`))
